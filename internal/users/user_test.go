package users

import (
	"errors"
	"strings"
	"testing"
)

func TestCredentialsValidate_Usernames(t *testing.T) {
	invalid := []string{"", "     ", "1", "123", "1234", strings.Repeat("a", 51), "bad name", "semi;colon"}
	for _, u := range invalid {
		err := Credentials{Username: u, Password: "password"}.Validate()
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "username" {
			t.Fatalf("username %q: expected username validation error, got %v", u, err)
		}
	}

	valid := []string{"12345", "123456", strings.Repeat("a", 50), strings.Repeat("a", 49), "john.doe", "jane_doe-1"}
	for _, u := range valid {
		if err := (Credentials{Username: u, Password: "password"}).Validate(); err != nil {
			t.Fatalf("username %q: unexpected error %v", u, err)
		}
	}
}

func TestCredentialsValidate_Passwords(t *testing.T) {
	invalid := []string{"", "     ", "1", "1234", strings.Repeat("x", 73)}
	for _, p := range invalid {
		err := Credentials{Username: "user1", Password: p}.Validate()
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != "password" {
			t.Fatalf("password %q: expected password validation error, got %v", p, err)
		}
	}

	for _, p := range []string{"12345", "123456", strings.Repeat("x", 72)} {
		if err := (Credentials{Username: "user1", Password: p}).Validate(); err != nil {
			t.Fatalf("password %q: unexpected error %v", p, err)
		}
	}
}
