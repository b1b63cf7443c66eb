// Package fixture builds a small soccer database for tests.
package fixture

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// Statements create and populate the fixture tables. They are plain SQL
// accepted by both SQLite and Postgres.
var Statements = []string{
	`CREATE TABLE teams (id INTEGER PRIMARY KEY, name TEXT)`,
	`CREATE TABLE players (hash TEXT PRIMARY KEY, name TEXT, country TEXT)`,
	`CREATE TABLE leagues (id INTEGER PRIMARY KEY, name TEXT)`,
	`CREATE TABLE games (id INTEGER PRIMARY KEY, home_team_id INTEGER, away_team_id INTEGER, goal_home INTEGER, goal_away INTEGER, season TEXT, league_id INTEGER)`,
	`CREATE TABLE events (id INTEGER PRIMARY KEY, game_id INTEGER, team_id INTEGER, label TEXT)`,
	`CREATE TABLE augmented_teams (id INTEGER PRIMARY KEY, team_id INTEGER, augmented_name TEXT)`,
	`CREATE TABLE augmented_leagues (id INTEGER PRIMARY KEY, league_id INTEGER, augmented_name TEXT)`,

	`INSERT INTO teams (id, name) VALUES (1, 'Chelsea'), (7, 'Arsenal'), (12, 'Man United'), (13, 'Man City'), (20, 'Schalke 04'), (21, NULL), (22, '')`,
	`INSERT INTO players (hash, name, country) VALUES ('p-henry', 'Henry', 'France'), ('p-bergkamp', 'Dennis Bergkamp', 'Netherlands'), ('p-drogba', 'Didier Drogba', 'Ivory Coast')`,
	`INSERT INTO leagues (id, name) VALUES (1, 'england_epl'), (2, 'spain_laliga')`,
	`INSERT INTO games (id, home_team_id, away_team_id, goal_home, goal_away, season, league_id) VALUES
		(1, 7, 1, 2, 1, '2015', 1),
		(2, 12, 7, 0, 3, '2015', 1),
		(3, 13, 12, 1, 1, '2016', 1)`,
	`INSERT INTO events (id, game_id, team_id, label) VALUES (1, 1, 7, 'Goal'), (2, 1, 1, 'Yellow card'), (3, 2, 7, 'Goal'), (4, 3, 13, 'Corner')`,
	`INSERT INTO augmented_teams (id, team_id, augmented_name) VALUES (1, 12, 'ManU'), (2, 7, 'Gunners'), (3, 13, 'Manchester'), (4, 12, 'Manchester')`,
	`INSERT INTO augmented_leagues (id, league_id, augmented_name) VALUES (1, 1, 'Premier League'), (2, 1, 'EPL')`,
}

// SchemaYAML describes the fixture tables.
const SchemaYAML = `
properties:
  person_name:
    type: array
    items: {type: string, db_table: players, db_column: name, pk_column: hash}
  team_name:
    type: array
    items:
      type: string
      db_table: teams
      db_column: name
      pk_column: id
      augmented_table: augmented_teams
      augmented_column: augmented_name
      augmented_fk: team_id
  league_name:
    type: array
    items:
      type: string
      db_table: leagues
      db_column: name
      pk_column: id
      augmented_table: augmented_leagues
      augmented_column: augmented_name
      augmented_fk: league_id
  year_season:
    type: array
    items: {type: string, db_table: games, db_column: season, numeric: true}
  game_event:
    type: array
    items: {type: string, db_table: events, db_column: label}
`

// SoccerDB writes the fixture to a fresh SQLite file and returns its path.
func SoccerDB(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "soccer.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("fixture: open: %v", err)
	}
	defer db.Close()

	for _, stmt := range Statements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("fixture: exec %q: %v", stmt, err)
		}
	}
	return path
}
