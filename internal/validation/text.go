package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	MaxTitleLength         = 200
	MaxDescriptionLength   = 2000
	MaxListItemValueLength = 500
)

// Title trims and NFC-normalises a goal title and checks its length.
func Title(title string) (string, error) {
	return requiredText("title", title, MaxTitleLength)
}

// Description normalises an optional goal description.
func Description(description string) (string, error) {
	description = norm.NFC.String(strings.TrimSpace(description))
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return "", fmt.Errorf("description is too long (max %d characters)", MaxDescriptionLength)
	}
	return description, nil
}

// ListItemValue trims and NFC-normalises a list entry.
func ListItemValue(value string) (string, error) {
	return requiredText("value", value, MaxListItemValueLength)
}

func requiredText(field, value string, maxLen int) (string, error) {
	value = norm.NFC.String(strings.TrimSpace(value))

	if value == "" {
		return "", fmt.Errorf("%s is required", field)
	}

	if utf8.RuneCountInString(value) > maxLen {
		return "", fmt.Errorf("%s is too long (max %d characters)", field, maxLen)
	}

	return value, nil
}
