package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePasswordHardGate(t *testing.T) {
	policy := NewCredentialPolicy()

	cases := []struct {
		name     string
		password string
		accepted bool
	}{
		{"valid mixed", "Passw0rd!", true},
		{"valid long", "Str0ng!Pass9", true},
		{"too short", "Ab1!xyz", false},
		{"missing upper", "passw0rd!x", false},
		{"missing lower", "PASSW0RD!X", false},
		{"missing digit", "Password!!", false},
		{"missing special", "Passw0rdX1", false},
		{"denylist qwerty", "Qwerty#4Now", false},
		{"denylist embedded admin", "SuperAdmin#9", false},
		{"sequential letters", "Xabc!Pw0rdZ", false},
		{"sequential digits", "Xk789!PwordZ", false},
		{"repeated run", "Paaassw0rd!", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := policy.ValidatePassword(tc.password)
			if tc.accepted {
				assert.Empty(t, msg)
			} else {
				assert.NotEmpty(t, msg)
			}
		})
	}
}

func TestValidatePasswordLengthBounds(t *testing.T) {
	policy := NewCredentialPolicy()

	long := "Aa1!"
	for len(long) < 130 {
		long += "Xq2%"
	}
	assert.NotEmpty(t, policy.ValidatePassword(long))
}

func TestScorePasswordDeterministic(t *testing.T) {
	policy := NewCredentialPolicy()

	first := policy.ScorePassword("Passw0rd!")
	second := policy.ScorePassword("Passw0rd!")
	assert.Equal(t, first, second)

	// Length 9: one length point plus all four classes plus both
	// absence points.
	assert.Equal(t, 7, first.Score)
	assert.Equal(t, BandGood, first.Band)
}

func TestScorePasswordBands(t *testing.T) {
	policy := NewCredentialPolicy()

	cases := []struct {
		password string
		band     string
	}{
		{"", BandVeryWeak},
		{"aaa", BandVeryWeak},
		{"abcdefgh", BandWeak},
		{"Aa1!Aa1!Aa1!Aa1!", BandStrong},
	}
	for _, tc := range cases {
		got := policy.ScorePassword(tc.password)
		assert.Equal(t, tc.band, got.Band, "password=%q score=%d", tc.password, got.Score)
	}
}

func TestScorePasswordFeedback(t *testing.T) {
	policy := NewCredentialPolicy()

	weak := policy.ScorePassword("abc")
	assert.NotEmpty(t, weak.Feedback)

	strong := policy.ScorePassword("Aa1!Aa1!Aa1!Aa1!")
	assert.Empty(t, strong.Feedback)
}

func TestValidateEmail(t *testing.T) {
	policy := NewCredentialPolicy()

	cases := []struct {
		email    string
		accepted bool
	}{
		{"ada@example.com", true},
		{"ada.lovelace+tag@sub.example.com", true},
		{"", false},
		{"no-at-sign", false},
		{"a..b@example.com", false},
		{".ada@example.com", false},
		{"ada.@example.com", false},
		{"ada@-example.com", false},
		{"ada@example.com-", false},
	}
	for _, tc := range cases {
		msg := policy.ValidateEmail(tc.email)
		if tc.accepted {
			assert.Empty(t, msg, "email=%q", tc.email)
		} else {
			assert.NotEmpty(t, msg, "email=%q", tc.email)
		}
	}
}

func TestValidateEmailLocalPartLength(t *testing.T) {
	policy := NewCredentialPolicy()

	local := ""
	for len(local) < 65 {
		local += "a"
	}
	assert.NotEmpty(t, policy.ValidateEmail(local+"@example.com"))
}

func TestValidateName(t *testing.T) {
	policy := NewCredentialPolicy()

	cases := []struct {
		name     string
		accepted bool
	}{
		{"Ada Lovelace", true},
		{"Jean-Luc", true},
		{"O'Brien", true},
		{"A", false},
		{"", false},
		{"Ada9", false},
		{"-Ada", false},
		{"Ada'", false},
		{" Ada", false},
		{"Ada     Lovelace", false},
	}
	for _, tc := range cases {
		msg := policy.ValidateName(tc.name)
		if tc.accepted {
			assert.Empty(t, msg, "name=%q", tc.name)
		} else {
			assert.NotEmpty(t, msg, "name=%q", tc.name)
		}
	}
}
