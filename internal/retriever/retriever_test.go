package retriever

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/simula/soccer-rag/internal/datasource"
	"github.com/simula/soccer-rag/internal/fixture"
	"github.com/simula/soccer-rag/internal/match"
	"github.com/simula/soccer-rag/internal/model"
	"github.com/simula/soccer-rag/internal/schema"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newFixtureSet(t *testing.T, opts ...Option) *Set {
	t.Helper()
	src, err := datasource.OpenSQLite(context.Background(), fixture.SoccerDB(t))
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	s, err := schema.Parse([]byte(fixture.SchemaYAML))
	require.NoError(t, err)
	return NewSet(s, src, opts...)
}

func get(t *testing.T, s *Set, name string) *Retriever {
	t.Helper()
	r, ok := s.Get(name)
	require.True(t, ok, name)
	return r
}

func TestLoadKnownValues_StripsDigitsForText(t *testing.T) {
	r := get(t, newFixtureSet(t), "team_name")

	known, err := r.LoadKnownValues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Arsenal", "Chelsea", "Man City", "Man United", "Schalke"}, known)
}

func TestStripStandaloneDigits(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Schalke 04", "Schalke "},
		{"1860 Munich", " Munich"},
		{"Hannover 96 II", "Hannover  II"},
		{"FC04", "FC04"},
		{"é1", "é1"},
		{"Team_2", "Team_2"},
		{"Mainz-05", "Mainz-"},
		{"٣ Lions", " Lions"},
		{"2015", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, stripStandaloneDigits(tt.in))
		})
	}
}

func TestLoadKnownValues_NumericKeepsDigitsAndDedupes(t *testing.T) {
	r := get(t, newFixtureSet(t), "year_season")

	known, err := r.LoadKnownValues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2015", "2016"}, known)
}

func TestLoadKnownValues_CachedAndConcurrent(t *testing.T) {
	r := get(t, newFixtureSet(t), "person_name")

	var wg sync.WaitGroup
	results := make([][]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := r.KnownValues(context.Background())
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()
	for _, v := range results {
		assert.Equal(t, results[0], v)
	}
}

func TestLoadKnownValues_MissingTable(t *testing.T) {
	src, err := datasource.OpenSQLite(context.Background(), fixture.SoccerDB(t))
	require.NoError(t, err)
	defer src.Close()

	r := New(schema.PropertySpec{Name: "coach_name", DBTable: "coaches", DBColumn: "name"}, src)
	_, err = r.LoadKnownValues(context.Background())
	require.Error(t, err)

	var dae *DataAccessError
	require.True(t, errors.As(err, &dae))
	assert.Equal(t, "coach_name", dae.Property)

	_, err = r.FindCloseMatches(context.Background(), "x", model.MethodFuzzy, match.Options{})
	require.Error(t, err)
}

func TestResolveViaAugmentation(t *testing.T) {
	ctx := context.Background()
	s := newFixtureSet(t)

	team := get(t, s, "team_name")
	v, status, err := team.ResolveViaAugmentation(ctx, "manu")
	require.NoError(t, err)
	assert.Equal(t, AugmentFound, status)
	assert.Equal(t, "Man United", v)

	_, status, err = team.ResolveViaAugmentation(ctx, "Spurs")
	require.NoError(t, err)
	assert.Equal(t, AugmentNotFound, status)

	league := get(t, s, "league_name")
	v, status, err = league.ResolveViaAugmentation(ctx, "Premier League")
	require.NoError(t, err)
	assert.Equal(t, AugmentFound, status)
	assert.Equal(t, "england_epl", v)

	person := get(t, s, "person_name")
	_, status, err = person.ResolveViaAugmentation(ctx, "Henry")
	require.NoError(t, err)
	assert.Equal(t, AugmentUnavailable, status)
}

func TestResolveViaAugmentation_MultiRowPolicy(t *testing.T) {
	ctx := context.Background()

	first := get(t, newFixtureSet(t), "team_name")
	v, status, err := first.ResolveViaAugmentation(ctx, "Manchester")
	require.NoError(t, err)
	assert.Equal(t, AugmentFound, status)
	assert.Equal(t, "Man City", v)

	strict := get(t, newFixtureSet(t, WithMultiRowPolicy(MultiRowError)), "team_name")
	_, _, err = strict.ResolveViaAugmentation(ctx, "Manchester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAmbiguousRows))
}

func TestFindCloseMatches(t *testing.T) {
	ctx := context.Background()
	team := get(t, newFixtureSet(t), "team_name")

	res, err := team.FindCloseMatches(ctx, "Arsnal", model.MethodFuzzy, match.Options{})
	require.NoError(t, err)
	assert.Equal(t, model.MatchResolved, res.Kind())
	assert.Equal(t, "Arsenal", res.Value())

	res, err = team.FindCloseMatches(ctx, "Man", model.MethodFuzzy, match.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Man City", "Man United"}, res.Values())

	res, err = team.FindCloseMatches(ctx, "Arsenal", model.MethodStrict, match.Options{})
	require.NoError(t, err)
	assert.Equal(t, model.MatchCandidates, res.Kind())
	top, _ := res.Top()
	assert.Equal(t, "Arsenal", top)
}

func TestFetchPrimaryKeys(t *testing.T) {
	ctx := context.Background()
	s := newFixtureSet(t)

	team := get(t, s, "team_name")
	keys, err := team.FetchPrimaryKeys(ctx, []string{"Arsenal", "Unknown FC", "", "Arsenal"})
	require.NoError(t, err)
	require.Len(t, keys, 4)
	assert.Equal(t, "7", *keys[0])
	assert.Nil(t, keys[1])
	assert.Nil(t, keys[2])
	assert.Equal(t, "7", *keys[3])

	player := get(t, s, "person_name")
	keys, err = player.FetchPrimaryKeys(ctx, []string{"Henry"})
	require.NoError(t, err)
	assert.Equal(t, "p-henry", *keys[0])

	season := get(t, s, "year_season")
	keys, err = season.FetchPrimaryKeys(ctx, []string{"2015", "2016"})
	require.NoError(t, err)
	assert.Equal(t, []*string{nil, nil}, keys)
}

func TestFetchPrimaryKeys_NoPKDoesNotQuery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	r := New(schema.PropertySpec{Name: "year_season", DBTable: "games", DBColumn: "season", Numeric: true},
		datasource.NewPostgresSource(mock))
	keys, err := r.FetchPrimaryKeys(context.Background(), []string{"2015"})
	require.NoError(t, err)
	assert.Equal(t, []*string{nil}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPrimaryKeys_Postgres(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT "id" FROM "teams" WHERE "name" = \$1 LIMIT 2`).
		WithArgs("Arsenal").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int32(7)).AddRow(int32(8)))

	r := New(schema.PropertySpec{Name: "team_name", DBTable: "teams", DBColumn: "name", PKColumn: "id"},
		datasource.NewPostgresSource(mock), WithMultiRowPolicy(MultiRowError))
	_, err = r.FetchPrimaryKeys(context.Background(), []string{"Arsenal"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAmbiguousRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSet_Warm(t *testing.T) {
	s := newFixtureSet(t)
	require.NoError(t, s.Warm(context.Background(), 2))
	assert.Equal(t, []string{"person_name", "team_name", "league_name", "year_season", "game_event"}, s.Names())

	r := get(t, s, "game_event")
	known, err := r.KnownValues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Corner", "Goal", "Yellow card"}, known)
}

func TestSet_WarmReportsFailure(t *testing.T) {
	src, err := datasource.OpenSQLite(context.Background(), fixture.SoccerDB(t))
	require.NoError(t, err)
	defer src.Close()

	sc := &schema.Schema{Properties: []schema.PropertySpec{
		{Name: "team_name", DBTable: "teams", DBColumn: "name"},
		{Name: "coach_name", DBTable: "coaches", DBColumn: "name"},
	}}
	err = NewSet(sc, src).Warm(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coach_name")
}
