package service

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/studytrack-app/studytrack-api/internal/models"
)

// Strength bands for the password scorer.
const (
	BandVeryWeak = "very-weak"
	BandWeak     = "weak"
	BandFair     = "fair"
	BandGood     = "good"
	BandStrong   = "strong"
)

var (
	emailShape       = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	passwordDenylist = []string{"123456", "password", "qwerty", "admin", "user", "login"}
)

// CredentialPolicy enforces the registration input rules and provides the
// companion strength scorer used for UX feedback. The scorer is distinct
// from the accept/reject gate: registration applies both, rejecting
// passwords that pass the hard gate but still score weak.
type CredentialPolicy struct{}

// NewCredentialPolicy constructs the policy validator.
func NewCredentialPolicy() *CredentialPolicy {
	return &CredentialPolicy{}
}

// ValidatePassword applies the hard acceptance gate. The returned string is
// empty when the password is acceptable, otherwise a caller-facing reason.
func (p *CredentialPolicy) ValidatePassword(password string) string {
	if len(password) < 8 {
		return "password must be at least 8 characters"
	}
	if len(password) > 128 {
		return "password must be at most 128 characters"
	}

	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	switch {
	case !hasLower:
		return "password must contain a lowercase letter"
	case !hasUpper:
		return "password must contain an uppercase letter"
	case !hasDigit:
		return "password must contain a digit"
	case !hasSpecial:
		return "password must contain a special character"
	}

	lowered := strings.ToLower(password)
	for _, banned := range passwordDenylist {
		if strings.Contains(lowered, banned) {
			return "password contains a common, easily guessed sequence"
		}
	}

	if hasSequentialRun(password) {
		return "password must not contain sequential characters like abc or 123"
	}
	if hasRepeatedRun(password) {
		return "password must not repeat the same character three or more times"
	}

	return ""
}

// ScorePassword assigns 0-9 points and buckets them into a band. It is a
// pure function: same input, same result.
func (p *CredentialPolicy) ScorePassword(password string) models.PasswordStrength {
	var score int
	var feedback []string

	addPoint := func(earned bool, hint string) {
		if earned {
			score++
		} else if hint != "" {
			feedback = append(feedback, hint)
		}
	}

	addPoint(len(password) >= 8, "use at least 8 characters")
	addPoint(len(password) >= 12, "12 or more characters is stronger")
	addPoint(len(password) >= 16, "16 or more characters is strongest")

	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	addPoint(hasLower, "add a lowercase letter")
	addPoint(hasUpper, "add an uppercase letter")
	addPoint(hasDigit, "add a digit")
	addPoint(hasSpecial, "add a special character")

	addPoint(!hasRepeatedRun(password), "avoid repeating the same character")
	addPoint(!hasSequentialRun(password), "avoid sequential characters like abc or 123")

	return models.PasswordStrength{
		Score:    score,
		Band:     bandFor(score),
		Feedback: feedback,
	}
}

// ValidateEmail checks address shape plus the local-part and domain rules.
// Returns an empty string when acceptable.
func (p *CredentialPolicy) ValidateEmail(email string) string {
	if email == "" {
		return "email is required"
	}
	if !emailShape.MatchString(email) {
		return "email address is malformed"
	}

	at := strings.LastIndex(email, "@")
	local, domain := email[:at], email[at+1:]

	if len(local) > 64 {
		return "email local part must be at most 64 characters"
	}
	if strings.HasPrefix(local, ".") || strings.HasSuffix(local, ".") {
		return "email local part must not start or end with a dot"
	}
	if strings.Contains(local, "..") {
		return "email local part must not contain consecutive dots"
	}

	if len(domain) > 253 {
		return "email domain must be at most 253 characters"
	}
	if strings.HasPrefix(domain, "-") || strings.HasSuffix(domain, "-") {
		return "email domain must not start or end with a hyphen"
	}

	return ""
}

// ValidateName checks the display name rules. Returns an empty string when
// acceptable.
func (p *CredentialPolicy) ValidateName(name string) string {
	runes := []rune(name)
	if len(runes) < 2 {
		return "name must be at least 2 characters"
	}
	if len(runes) > 50 {
		return "name must be at most 50 characters"
	}

	for _, r := range runes {
		if !unicode.IsLetter(r) && r != ' ' && r != '-' && r != '\'' {
			return "name may only contain letters, spaces, hyphens and apostrophes"
		}
	}

	first, last := runes[0], runes[len(runes)-1]
	if isNameBoundary(first) || isNameBoundary(last) {
		return "name must not start or end with a space, hyphen or apostrophe"
	}

	if strings.Contains(name, "    ") {
		return "name must not contain runs of four or more spaces"
	}

	return ""
}

func isNameBoundary(r rune) bool {
	return r == ' ' || r == '-' || r == '\''
}

func bandFor(score int) string {
	switch {
	case score <= 2:
		return BandVeryWeak
	case score <= 4:
		return BandWeak
	case score <= 6:
		return BandFair
	case score <= 8:
		return BandGood
	default:
		return BandStrong
	}
}

// hasSequentialRun reports a 3-character ascending run of letters or digits
// (abc, 789). Letters are folded to lowercase first so AbC still counts.
func hasSequentialRun(s string) bool {
	runes := []rune(strings.ToLower(s))
	for i := 0; i+2 < len(runes); i++ {
		a, b, c := runes[i], runes[i+1], runes[i+2]
		sameClass := (isLowerAlpha(a) && isLowerAlpha(b) && isLowerAlpha(c)) ||
			(isDigitRune(a) && isDigitRune(b) && isDigitRune(c))
		if sameClass && b == a+1 && c == b+1 {
			return true
		}
	}
	return false
}

// hasRepeatedRun reports any character repeated 3+ times consecutively.
func hasRepeatedRun(s string) bool {
	runes := []rune(s)
	for i := 0; i+2 < len(runes); i++ {
		if runes[i] == runes[i+1] && runes[i+1] == runes[i+2] {
			return true
		}
	}
	return false
}

func isLowerAlpha(r rune) bool { return r >= 'a' && r <= 'z' }
func isDigitRune(r rune) bool  { return r >= '0' && r <= '9' }
