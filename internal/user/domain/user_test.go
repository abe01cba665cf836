package domain

import "testing"

func TestUser_Validate(t *testing.T) {
	tests := []struct {
		name    string
		user    User
		wantErr bool
	}{
		{"valid", User{ID: "u1", Subject: "sub"}, false},
		{"missing id", User{Subject: "sub"}, true},
		{"missing subject", User{ID: "u1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.user.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUser_ApplyKeepsStoredValuesForEmptyFields(t *testing.T) {
	u := &User{Email: "old@example.com", Name: "Old", PictureURL: "http://pic"}
	p := Profile{Name: "New"}
	if !u.DiffersFrom(p) {
		t.Fatal("DiffersFrom should report the name change")
	}
	u.Apply(p)
	if u.Email != "old@example.com" || u.Name != "New" || u.PictureURL != "http://pic" {
		t.Errorf("Apply: got %+v", u)
	}
	if u.DiffersFrom(p) {
		t.Error("DiffersFrom should be false after Apply")
	}
	if u.DiffersFrom(Profile{}) {
		t.Error("empty profile should never differ")
	}
}
