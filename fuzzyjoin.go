package main

import (
	"errors"
	"fmt"
)

// DistanceType names the algorithm that compares two operand values of a
// fuzzy join condition.
type DistanceType string

const (
	DistanceExact       DistanceType = "EXACT"
	DistanceEuclidean   DistanceType = "EUCLIDEAN"
	DistanceLevenshtein DistanceType = "LEVENSHTEIN"
	DistanceHamming     DistanceType = "HAMMING"
	DistanceCosine      DistanceType = "COSINE"
	DistanceJaccard     DistanceType = "JACCARD"
	DistanceGeo         DistanceType = "GEO"
)

// ConditionType is the comparison operator of a join condition.
// Fuzzy matching only applies to EQ.
type ConditionType string

const (
	ConditionEQ  ConditionType = "EQ"
	ConditionNE  ConditionType = "NE"
	ConditionLT  ConditionType = "LT"
	ConditionLTE ConditionType = "LTE"
	ConditionGT  ConditionType = "GT"
	ConditionGTE ConditionType = "GTE"
)

// JoinType selects which unmatched rows a join keeps.
type JoinType string

const (
	JoinInner JoinType = "INNER"
	JoinLeft  JoinType = "LEFT"
	JoinRight JoinType = "RIGHT"
	JoinFull  JoinType = "FULL"
)

const (
	ConditionsModeAnd = "AND"
	ConditionsModeOr  = "OR"
)

var (
	// ErrOperandTypeUnresolved is returned when a condition operand cannot be
	// mapped to a storage type (missing column, renamed dataset, unclassified type).
	ErrOperandTypeUnresolved = errors.New("operand type unresolved")

	// ErrNoColumns is returned when a default operand is needed from a dataset without columns.
	ErrNoColumns = errors.New("dataset has no columns")

	// ErrIncompleteCondition marks an EQ condition left without a distance type.
	ErrIncompleteCondition = errors.New("condition has no applicable distance type")
)

// ColumnRef points at a column of one of the recipe inputs.
type ColumnRef struct {
	Table int    `json:"table" yaml:"table"`
	Name  string `json:"name" yaml:"name"`
}

func (c ColumnRef) String() string {
	return fmt.Sprintf("%d.%s", c.Table, c.Name)
}

// FuzzyMatchDesc holds the distance used by an EQ condition. An empty
// DistanceType means the condition is incomplete.
type FuzzyMatchDesc struct {
	DistanceType DistanceType `json:"distanceType,omitempty" yaml:"distanceType,omitempty"`
	Threshold    float64      `json:"threshold" yaml:"threshold"`
}

// NormaliseDesc toggles text preprocessing applied to string operands before
// the distance is computed.
type NormaliseDesc struct {
	CaseInsensitive    bool `json:"caseInsensitive" yaml:"caseInsensitive" toml:"case_insensitive"`
	NormaliseText      bool `json:"normaliseText" yaml:"normaliseText" toml:"normalise_text"`
	UnicodeCasting     bool `json:"unicodeCasting" yaml:"unicodeCasting" toml:"unicode_casting"`
	ClearSalutations   bool `json:"clearSalutations" yaml:"clearSalutations" toml:"clear_salutations"`
	ClearStopWords     bool `json:"clearStopWords" yaml:"clearStopWords" toml:"clear_stop_words"`
	TransformToStem    bool `json:"transformToStem" yaml:"transformToStem" toml:"transform_to_stem"`
	SortAlphabetically bool `json:"sortAlphabetically" yaml:"sortAlphabetically" toml:"sort_alphabetically"`
}

func (n NormaliseDesc) enabled() bool {
	return n != NormaliseDesc{}
}

// JoinCondition is one binary condition of a join.
type JoinCondition struct {
	Column1        ColumnRef      `json:"column1" yaml:"column1"`
	Column2        ColumnRef      `json:"column2" yaml:"column2"`
	Type           ConditionType  `json:"type" yaml:"type"`
	FuzzyMatchDesc FuzzyMatchDesc `json:"fuzzyMatchDesc" yaml:"fuzzyMatchDesc"`
	NormaliseDesc  NormaliseDesc  `json:"normaliseDesc" yaml:"normaliseDesc"`
}

// Join combines two recipe inputs with an ordered list of conditions.
type Join struct {
	Table1         int             `json:"table1" yaml:"table1"`
	Table2         int             `json:"table2" yaml:"table2"`
	Type           JoinType        `json:"type" yaml:"type"`
	ConditionsMode string          `json:"conditionsMode" yaml:"conditionsMode"`
	On             []JoinCondition `json:"on" yaml:"on"`
}

// ResolvedColumn is a column reference resolved against the source schema.
type ResolvedColumn struct {
	Dataset     string
	Name        string
	StorageType string
	Family      TypeFamily
	Collation   string
	Nullable    bool
}

// ColumnResolver maps a column reference to its storage type.
type ColumnResolver interface {
	ResolveColumn(ref ColumnRef) (ResolvedColumn, error)
}

// DatasetResolver lists the columns of a recipe input, in catalog order.
type DatasetResolver interface {
	DatasetColumns(table int) ([]string, error)
}

// distanceTypeAvailability lists every distance type in declaration order
// with the predicate both operands must satisfy.
var distanceTypeAvailability = []struct {
	distance DistanceType
	eligible func(TypeFamily) bool
}{
	{DistanceExact, func(TypeFamily) bool { return true }},
	{DistanceEuclidean, isNumericFamily},
	{DistanceLevenshtein, isStringFamily},
	{DistanceHamming, isStringFamily},
	{DistanceCosine, isStringFamily},
	{DistanceJaccard, isStringFamily},
	{DistanceGeo, isGeoFamily},
}

func isKnownDistanceType(d DistanceType) bool {
	for _, rule := range distanceTypeAvailability {
		if rule.distance == d {
			return true
		}
	}
	return false
}

// isRelativeDistance reports whether a distance yields a ratio in [0,1]
// rather than a raw count or length.
func isRelativeDistance(d DistanceType) bool {
	switch d {
	case DistanceCosine, DistanceJaccard:
		return true
	default:
		return false
	}
}

// resolveOperands resolves both sides of a condition. Operands whose type does
// not classify are reported as ErrOperandTypeUnresolved.
func resolveOperands(cond JoinCondition, r ColumnResolver) (ResolvedColumn, ResolvedColumn, error) {
	left, err := r.ResolveColumn(cond.Column1)
	if err != nil {
		return ResolvedColumn{}, ResolvedColumn{}, fmt.Errorf("column1 %s: %w", cond.Column1, err)
	}
	if left.Family == FamilyUnknown {
		return ResolvedColumn{}, ResolvedColumn{}, fmt.Errorf("column1 %s.%s: %w", left.Dataset, left.Name, ErrOperandTypeUnresolved)
	}
	right, err := r.ResolveColumn(cond.Column2)
	if err != nil {
		return ResolvedColumn{}, ResolvedColumn{}, fmt.Errorf("column2 %s: %w", cond.Column2, err)
	}
	if right.Family == FamilyUnknown {
		return ResolvedColumn{}, ResolvedColumn{}, fmt.Errorf("column2 %s.%s: %w", right.Dataset, right.Name, ErrOperandTypeUnresolved)
	}
	return left, right, nil
}

// eligibleDistances returns the distance types whose predicate holds for both
// families, in declaration order.
func eligibleDistances(f1, f2 TypeFamily) []DistanceType {
	var out []DistanceType
	for _, rule := range distanceTypeAvailability {
		if rule.eligible(f1) && rule.eligible(f2) {
			out = append(out, rule.distance)
		}
	}
	return out
}

// availableDistances returns the distance types applicable to a condition.
// An empty result is not an error; callers leave the distance unset.
func availableDistances(cond JoinCondition, r ColumnResolver) ([]DistanceType, error) {
	left, right, err := resolveOperands(cond, r)
	if err != nil {
		return nil, err
	}
	return eligibleDistances(left.Family, right.Family), nil
}

// pickDistanceType prefers the first fuzzy distance; EXACT is only chosen
// when nothing else applies.
func pickDistanceType(available []DistanceType) DistanceType {
	for _, d := range available {
		if d != DistanceExact {
			return d
		}
	}
	if len(available) > 0 {
		return available[0]
	}
	return ""
}

// guessDistanceType returns cond with a default distance type for its operands.
func guessDistanceType(cond JoinCondition, r ColumnResolver) (JoinCondition, error) {
	available, err := availableDistances(cond, r)
	if err != nil {
		return cond, err
	}
	cond.FuzzyMatchDesc.DistanceType = pickDistanceType(available)
	return cond, nil
}

// setInitialThreshold returns cond with the default threshold of its distance type.
func setInitialThreshold(cond JoinCondition) JoinCondition {
	if isRelativeDistance(cond.FuzzyMatchDesc.DistanceType) {
		cond.FuzzyMatchDesc.Threshold = 0.5
	} else {
		cond.FuzzyMatchDesc.Threshold = 1
	}
	return cond
}

// addEmptyCondition appends an EQ condition between the first column of each
// side of the join, with defaults filled in. It returns the new join and the
// index of the added condition. The input join is not modified.
func addEmptyCondition(join Join, datasets DatasetResolver, r ColumnResolver) (Join, int, error) {
	left, err := datasets.DatasetColumns(join.Table1)
	if err != nil {
		return join, -1, err
	}
	if len(left) == 0 {
		return join, -1, fmt.Errorf("table %d: %w", join.Table1, ErrNoColumns)
	}
	right, err := datasets.DatasetColumns(join.Table2)
	if err != nil {
		return join, -1, err
	}
	if len(right) == 0 {
		return join, -1, fmt.Errorf("table %d: %w", join.Table2, ErrNoColumns)
	}

	cond := JoinCondition{
		Column1: ColumnRef{Table: join.Table1, Name: left[0]},
		Column2: ColumnRef{Table: join.Table2, Name: right[0]},
		Type:    ConditionEQ,
	}
	cond, err = guessDistanceType(cond, r)
	if err != nil {
		return join, -1, err
	}
	cond = setInitialThreshold(cond)

	on := make([]JoinCondition, 0, len(join.On)+1)
	on = append(on, join.On...)
	join.On = append(on, cond)
	return join, len(join.On) - 1, nil
}

// ConditionSummary is the projection of a condition sent with the save audit event.
type ConditionSummary struct {
	FuzzyMatchDesc FuzzyMatchDesc `json:"fuzzyMatchDesc" yaml:"fuzzyMatchDesc"`
	NormaliseDesc  NormaliseDesc  `json:"normaliseDesc" yaml:"normaliseDesc"`
	Column1Type    string         `json:"column1Type" yaml:"column1Type"`
	Column2Type    string         `json:"column2Type" yaml:"column2Type"`
}

// conditionSummaries projects the conditions of a join for auditing. Columns
// that no longer resolve are reported with an empty type.
func conditionSummaries(join Join, r ColumnResolver) []ConditionSummary {
	out := make([]ConditionSummary, 0, len(join.On))
	for _, cond := range join.On {
		s := ConditionSummary{
			FuzzyMatchDesc: cond.FuzzyMatchDesc,
			NormaliseDesc:  cond.NormaliseDesc,
		}
		if c, err := r.ResolveColumn(cond.Column1); err == nil {
			s.Column1Type = c.StorageType
		}
		if c, err := r.ResolveColumn(cond.Column2); err == nil {
			s.Column2Type = c.StorageType
		}
		out = append(out, s)
	}
	return out
}

// distanceTypeUsage counts how often each distance type is used.
func distanceTypeUsage(summaries []ConditionSummary) map[DistanceType]int {
	counts := make(map[DistanceType]int)
	for _, s := range summaries {
		if s.FuzzyMatchDesc.DistanceType == "" {
			continue
		}
		counts[s.FuzzyMatchDesc.DistanceType]++
	}
	return counts
}
