package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResolver resolves columns from fixed per-table storage types.
type fakeResolver struct {
	// table index → ordered column names
	columns map[int][]string
	// table index → column name → storage type
	types map[int]map[string]string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{columns: map[int][]string{}, types: map[int]map[string]string{}}
}

func (f *fakeResolver) add(table int, name, storageType string) *fakeResolver {
	if f.types[table] == nil {
		f.types[table] = map[string]string{}
	}
	f.columns[table] = append(f.columns[table], name)
	f.types[table][name] = storageType
	return f
}

func (f *fakeResolver) ResolveColumn(ref ColumnRef) (ResolvedColumn, error) {
	st, ok := f.types[ref.Table][ref.Name]
	if !ok {
		return ResolvedColumn{}, fmt.Errorf("%w: column %q not found", ErrOperandTypeUnresolved, ref.Name)
	}
	return ResolvedColumn{
		Dataset:     fmt.Sprintf("t%d", ref.Table),
		Name:        ref.Name,
		StorageType: st,
		Family:      storageFamily(st),
	}, nil
}

func (f *fakeResolver) DatasetColumns(table int) ([]string, error) {
	return f.columns[table], nil
}

func eqCondition(c1, c2 string) JoinCondition {
	return JoinCondition{
		Column1: ColumnRef{Table: 0, Name: c1},
		Column2: ColumnRef{Table: 1, Name: c2},
		Type:    ConditionEQ,
	}
}

var allStorageTypes = []string{
	StorageString, StorageTinyInt, StorageSmallInt, StorageInt, StorageBigInt, StorageFloat, StorageDouble,
	StorageBoolean, StorageDate, StorageGeoPoint, StorageGeometry, StorageArray, StorageMap, StorageObject,
}

func TestAvailableDistances_AllPairs(t *testing.T) {
	stringOnly := []DistanceType{DistanceLevenshtein, DistanceHamming, DistanceCosine, DistanceJaccard}

	for _, st1 := range allStorageTypes {
		for _, st2 := range allStorageTypes {
			t.Run(st1+"_"+st2, func(t *testing.T) {
				r := newFakeResolver().add(0, "a", st1).add(1, "b", st2)
				available, err := availableDistances(eqCondition("a", "b"), r)
				require.NoError(t, err)

				assert.Contains(t, available, DistanceExact)
				f1, f2 := storageFamily(st1), storageFamily(st2)
				if isNumericFamily(f1) && isNumericFamily(f2) {
					assert.Contains(t, available, DistanceEuclidean)
				} else {
					assert.NotContains(t, available, DistanceEuclidean)
				}
				if !isStringFamily(f1) || !isStringFamily(f2) {
					for _, d := range stringOnly {
						assert.NotContains(t, available, d)
					}
				}
				if isGeoFamily(f1) && isGeoFamily(f2) {
					assert.Contains(t, available, DistanceGeo)
				} else {
					assert.NotContains(t, available, DistanceGeo)
				}
			})
		}
	}
}

func TestGuessDistanceType_NeverExactWhenFuzzyAvailable(t *testing.T) {
	for _, st1 := range allStorageTypes {
		for _, st2 := range allStorageTypes {
			r := newFakeResolver().add(0, "a", st1).add(1, "b", st2)
			cond, err := guessDistanceType(eqCondition("a", "b"), r)
			require.NoError(t, err)

			available, err := availableDistances(eqCondition("a", "b"), r)
			require.NoError(t, err)
			if len(available) > 1 {
				assert.NotEqual(t, DistanceExact, cond.FuzzyMatchDesc.DistanceType, "%s/%s", st1, st2)
			} else {
				assert.Equal(t, DistanceExact, cond.FuzzyMatchDesc.DistanceType, "%s/%s", st1, st2)
			}
		}
	}
}

func TestSetInitialThreshold(t *testing.T) {
	tests := []struct {
		distance DistanceType
		want     float64
	}{
		{DistanceCosine, 0.5},
		{DistanceJaccard, 0.5},
		{DistanceLevenshtein, 1},
		{DistanceHamming, 1},
		{DistanceExact, 1},
		{DistanceEuclidean, 1},
		{DistanceGeo, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.distance), func(t *testing.T) {
			cond := JoinCondition{FuzzyMatchDesc: FuzzyMatchDesc{DistanceType: tt.distance, Threshold: 42}}
			got := setInitialThreshold(cond)
			assert.Equal(t, tt.want, got.FuzzyMatchDesc.Threshold)
			assert.Equal(t, 42.0, cond.FuzzyMatchDesc.Threshold, "input must not change")
		})
	}
}

func TestGuessAndThreshold_Idempotent(t *testing.T) {
	pairs := [][2]string{
		{StorageString, StorageString},
		{StorageInt, StorageDouble},
		{StorageGeoPoint, StorageGeometry},
		{StorageInt, StorageString},
		{StorageDate, StorageDate},
	}
	for _, p := range pairs {
		r := newFakeResolver().add(0, "a", p[0]).add(1, "b", p[1])

		once, err := guessDistanceType(eqCondition("a", "b"), r)
		require.NoError(t, err)
		once = setInitialThreshold(once)

		twice, err := guessDistanceType(once, r)
		require.NoError(t, err)
		twice = setInitialThreshold(twice)
		twice, err = guessDistanceType(twice, r)
		require.NoError(t, err)
		twice = setInitialThreshold(twice)

		assert.Equal(t, once, twice, "%s/%s", p[0], p[1])
	}
}

func TestScenario_TwoStringColumns(t *testing.T) {
	r := newFakeResolver().add(0, "first_name", StorageString).add(1, "name", StorageString)
	cond := eqCondition("first_name", "name")

	available, err := availableDistances(cond, r)
	require.NoError(t, err)
	assert.Equal(t, []DistanceType{DistanceExact, DistanceLevenshtein, DistanceHamming, DistanceCosine, DistanceJaccard}, available)

	cond, err = guessDistanceType(cond, r)
	require.NoError(t, err)
	assert.Equal(t, DistanceLevenshtein, cond.FuzzyMatchDesc.DistanceType)
	assert.Equal(t, 1.0, setInitialThreshold(cond).FuzzyMatchDesc.Threshold)
}

func TestScenario_NumericAndString(t *testing.T) {
	r := newFakeResolver().add(0, "id", StorageBigInt).add(1, "code", StorageString)
	cond := eqCondition("id", "code")

	available, err := availableDistances(cond, r)
	require.NoError(t, err)
	assert.Equal(t, []DistanceType{DistanceExact}, available)

	cond, err = guessDistanceType(cond, r)
	require.NoError(t, err)
	assert.Equal(t, DistanceExact, cond.FuzzyMatchDesc.DistanceType)
	assert.Equal(t, 1.0, setInitialThreshold(cond).FuzzyMatchDesc.Threshold)
}

func TestScenario_TwoGeoColumns(t *testing.T) {
	r := newFakeResolver().add(0, "location", StorageGeoPoint).add(1, "area", StorageGeometry)
	cond := eqCondition("location", "area")

	available, err := availableDistances(cond, r)
	require.NoError(t, err)
	assert.Equal(t, []DistanceType{DistanceExact, DistanceGeo}, available)

	cond, err = guessDistanceType(cond, r)
	require.NoError(t, err)
	assert.Equal(t, DistanceGeo, cond.FuzzyMatchDesc.DistanceType)
}

func TestScenario_TwoNumericColumns(t *testing.T) {
	r := newFakeResolver().add(0, "price", StorageDouble).add(1, "amount", StorageInt)
	cond, err := guessDistanceType(eqCondition("price", "amount"), r)
	require.NoError(t, err)
	assert.Equal(t, DistanceEuclidean, cond.FuzzyMatchDesc.DistanceType)
	assert.Equal(t, 1.0, setInitialThreshold(cond).FuzzyMatchDesc.Threshold)
}

func TestPickDistanceType(t *testing.T) {
	assert.Equal(t, DistanceType(""), pickDistanceType(nil))
	assert.Equal(t, DistanceExact, pickDistanceType([]DistanceType{DistanceExact}))
	assert.Equal(t, DistanceCosine, pickDistanceType([]DistanceType{DistanceExact, DistanceCosine, DistanceJaccard}))
}

func TestGuessDistanceType_Unresolved(t *testing.T) {
	t.Run("missing column", func(t *testing.T) {
		r := newFakeResolver().add(0, "a", StorageString).add(1, "b", StorageString)
		cond := eqCondition("a", "missing")
		got, err := guessDistanceType(cond, r)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrOperandTypeUnresolved))
		assert.Contains(t, err.Error(), "column2")
		assert.Equal(t, cond, got)
	})

	t.Run("unclassified type", func(t *testing.T) {
		r := newFakeResolver().add(0, "a", "").add(1, "b", StorageString)
		_, err := guessDistanceType(eqCondition("a", "b"), r)
		require.ErrorIs(t, err, ErrOperandTypeUnresolved)
		assert.Contains(t, err.Error(), "column1")
	})
}

func TestAddEmptyCondition(t *testing.T) {
	r := newFakeResolver().
		add(0, "first_name", StorageString).
		add(0, "age", StorageInt).
		add(1, "name", StorageString)

	existing := eqCondition("age", "name")
	join := Join{Table1: 0, Table2: 1, Type: JoinLeft, ConditionsMode: ConditionsModeAnd, On: []JoinCondition{existing}}

	got, idx, err := addEmptyCondition(join, r, r)
	require.NoError(t, err)
	require.Len(t, got.On, 2)
	assert.Equal(t, 1, idx)
	assert.Len(t, join.On, 1, "input join must not change")

	cond := got.On[idx]
	assert.Equal(t, ColumnRef{Table: 0, Name: "first_name"}, cond.Column1)
	assert.Equal(t, ColumnRef{Table: 1, Name: "name"}, cond.Column2)
	assert.Equal(t, ConditionEQ, cond.Type)
	assert.Equal(t, DistanceLevenshtein, cond.FuzzyMatchDesc.DistanceType)
	assert.Equal(t, 1.0, cond.FuzzyMatchDesc.Threshold)
	assert.False(t, cond.NormaliseDesc.enabled())
}

func TestAddEmptyCondition_NoColumns(t *testing.T) {
	r := newFakeResolver().add(0, "a", StorageString)
	_, idx, err := addEmptyCondition(Join{Table1: 0, Table2: 1}, r, r)
	require.ErrorIs(t, err, ErrNoColumns)
	assert.Equal(t, -1, idx)
}

func TestConditionSummaries(t *testing.T) {
	r := newFakeResolver().
		add(0, "first_name", StorageString).
		add(0, "zip", StorageInt).
		add(1, "name", StorageString).
		add(1, "zip", StorageBigInt)

	join := Join{Table1: 0, Table2: 1, On: []JoinCondition{
		{
			Column1:        ColumnRef{Table: 0, Name: "first_name"},
			Column2:        ColumnRef{Table: 1, Name: "name"},
			Type:           ConditionEQ,
			FuzzyMatchDesc: FuzzyMatchDesc{DistanceType: DistanceJaccard, Threshold: 0.5},
			NormaliseDesc:  NormaliseDesc{CaseInsensitive: true},
		},
		{
			Column1:        ColumnRef{Table: 0, Name: "zip"},
			Column2:        ColumnRef{Table: 1, Name: "zip"},
			Type:           ConditionEQ,
			FuzzyMatchDesc: FuzzyMatchDesc{DistanceType: DistanceEuclidean, Threshold: 1},
		},
		{
			Column1: ColumnRef{Table: 0, Name: "gone"},
			Column2: ColumnRef{Table: 1, Name: "zip"},
			Type:    ConditionLT,
		},
	}}

	summaries := conditionSummaries(join, r)
	require.Len(t, summaries, 3)
	assert.Equal(t, ConditionSummary{
		FuzzyMatchDesc: FuzzyMatchDesc{DistanceType: DistanceJaccard, Threshold: 0.5},
		NormaliseDesc:  NormaliseDesc{CaseInsensitive: true},
		Column1Type:    StorageString,
		Column2Type:    StorageString,
	}, summaries[0])
	assert.Equal(t, StorageInt, summaries[1].Column1Type)
	assert.Equal(t, StorageBigInt, summaries[1].Column2Type)
	assert.Empty(t, summaries[2].Column1Type)
	assert.Equal(t, StorageBigInt, summaries[2].Column2Type)

	assert.Equal(t, map[DistanceType]int{DistanceJaccard: 1, DistanceEuclidean: 1}, distanceTypeUsage(summaries))
}

func TestIsKnownDistanceType(t *testing.T) {
	for _, d := range []DistanceType{DistanceExact, DistanceEuclidean, DistanceLevenshtein, DistanceHamming, DistanceCosine, DistanceJaccard, DistanceGeo} {
		assert.True(t, isKnownDistanceType(d), d)
	}
	assert.False(t, isKnownDistanceType("SOUNDEX"))
	assert.False(t, isKnownDistanceType(""))
}
