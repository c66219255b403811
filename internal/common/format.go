package common

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// Report widths
	DefaultWidth = 80
	WideWidth    = 100
)

func rule(char string, width int) string {
	return strings.Repeat(char, width)
}

// PrintSeparator prints one line of char repeated width times
func PrintSeparator(char string, width int) {
	fmt.Println(rule(char, width))
}

// PrintHeader prints title between two "=" rules, preceded by a blank line
func PrintHeader(title string, width int) {
	fmt.Println("\n" + rule("=", width))
	fmt.Println(title)
	fmt.Println(rule("=", width))
}

// PrintFooter is PrintHeader with a trailing blank line
func PrintFooter(message string, width int) {
	PrintHeader(message, width)
	fmt.Println()
}

// PrintBoxSeparator opens the item list under a box header
func PrintBoxSeparator(width int) {
	fmt.Println("├" + rule("─", width))
}

// PrintField prints an aligned "label: value" line
func PrintField(label string, value any) {
	fmt.Printf("%-19s%v\n", label+":", value)
}

// BoxPrefix returns the tree prefix for a list item
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// BoxDetailPrefix returns the prefix for lines nested under a list item
func BoxDetailPrefix(isLast bool) string {
	if isLast {
		return "   "
	}
	return "│  "
}

// ShortId trims long ids for table output; empty ids read as "none".
func ShortId(id string) string {
	if id == "" {
		return "none"
	}
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

// Amount renders a ledger amount with its asset symbol.
func Amount(v decimal.Decimal, symbol string) string {
	return v.String() + " " + symbol
}
