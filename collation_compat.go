package main

import (
	"fmt"
	"sort"
	"strings"
)

// isCaseInsensitiveCollation reports whether a collation compares text without
// regard to case (MySQL "_ci" suffix, SQL Server "_CI_" infix, SQLite NOCASE).
func isCaseInsensitiveCollation(collation string) bool {
	c := strings.ToLower(collation)
	return strings.HasSuffix(c, "_ci") || strings.Contains(c, "_ci_") || c == "nocase"
}

// collectCollationWarnings summarizes the collations used by string columns of
// the recipe inputs. Case-insensitive collations are reported per collation
// since they drive the inferred case_insensitive normalisation.
func collectCollationWarnings(schema *Schema) []string {
	if schema == nil {
		return nil
	}
	collations := make(map[string]bool)
	// case-insensitive collation → count of string columns using it
	ciCounts := make(map[string]int)

	for _, t := range schema.Tables {
		for _, col := range t.Columns {
			if col.Collation == "" || !isStringFamily(storageFamily(col.StorageType)) {
				continue
			}
			collations[col.Collation] = true
			if isCaseInsensitiveCollation(col.Collation) {
				ciCounts[col.Collation]++
			}
		}
	}

	var warnings []string
	if len(collations) > 0 {
		warnings = append(warnings, fmt.Sprintf("source collations found: %s", strings.Join(sortedKeys(collations), ", ")))
	}
	for _, coll := range sortedKeys(ciCounts) {
		warnings = append(warnings, fmt.Sprintf(
			"%d column(s) use %s (case-insensitive); string conditions on them default to case-insensitive matching",
			ciCounts[coll], coll))
	}
	return warnings
}

// collectOperandCollationWarnings reports string conditions whose operands
// disagree on case sensitivity. No normalisation is inferred for them, so the
// match is case-sensitive unless the config enables case_insensitive.
func collectOperandCollationWarnings(recipe *Recipe, r ColumnResolver) []string {
	if recipe == nil {
		return nil
	}
	var warnings []string
	for i, j := range recipe.Joins {
		for k, cond := range j.On {
			left, err := r.ResolveColumn(cond.Column1)
			if err != nil {
				continue
			}
			right, err := r.ResolveColumn(cond.Column2)
			if err != nil {
				continue
			}
			if !isStringFamily(left.Family) || !isStringFamily(right.Family) {
				continue
			}
			if isCaseInsensitiveCollation(left.Collation) == isCaseInsensitiveCollation(right.Collation) {
				continue
			}
			if cond.NormaliseDesc.CaseInsensitive {
				continue
			}
			warnings = append(warnings, fmt.Sprintf(
				"join %d condition %d: %s.%s (%s) and %s.%s (%s) differ in case sensitivity; matching is case-sensitive",
				i, k, left.Dataset, left.Name, collationLabel(left.Collation),
				right.Dataset, right.Name, collationLabel(right.Collation)))
		}
	}
	return warnings
}

func collationLabel(collation string) string {
	if collation == "" {
		return "default collation"
	}
	return collation
}

// sortedKeys returns the keys of a map in sorted order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
