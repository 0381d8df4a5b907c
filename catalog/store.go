// Package catalog persists the multimaster node table: which peers
// exist, their connection strings, which one is self, and whether the
// cluster has been configured at all.
package catalog

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS mtm_nodes (
	id       INTEGER PRIMARY KEY,
	conninfo TEXT NOT NULL,
	is_self  INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS mtm_publication (
	name TEXT PRIMARY KEY
);
`

// multimasterPublication is the sentinel row whose presence models the
// "multimaster" publication doubling as a configured flag: creating it
// is the last step of cluster setup, dropping it un-configures the node.
const multimasterPublication = "multimaster"

// Node is one row of mtm.nodes.
type Node struct {
	ID       int
	ConnInfo string
	IsSelf   bool
}

// Store is the mtm.nodes catalog table, backed by an embedded SQLite
// database file distinct from the host engine's own storage.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the catalog database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AfterNodeCreate is the only legitimate way to add a row to mtm.nodes,
// matching the admin-invoked mtm_after_node_create(id, conninfo, is_self)
// mutator. It upserts: recreating a node with the same id updates its
// conninfo/is_self rather than erroring.
func (s *Store) AfterNodeCreate(id int, conninfo string, isSelf bool) error {
	_, err := s.db.Exec(
		`INSERT INTO mtm_nodes (id, conninfo, is_self) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET conninfo = excluded.conninfo, is_self = excluded.is_self`,
		id, conninfo, boolToInt(isSelf),
	)
	if err != nil {
		return fmt.Errorf("catalog: after_node_create(%d): %w", id, err)
	}
	return nil
}

// AfterNodeDrop is the only legitimate way to remove a row from
// mtm.nodes, matching mtm_after_node_drop(id).
func (s *Store) AfterNodeDrop(id int) error {
	if _, err := s.db.Exec(`DELETE FROM mtm_nodes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("catalog: after_node_drop(%d): %w", id, err)
	}
	return nil
}

// Nodes lists every configured node, ordered by id.
func (s *Store) Nodes() ([]Node, error) {
	rows, err := s.db.Query(`SELECT id, conninfo, is_self FROM mtm_nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		var isSelf int
		if err := rows.Scan(&n.ID, &n.ConnInfo, &isSelf); err != nil {
			return nil, fmt.Errorf("catalog: scan node row: %w", err)
		}
		n.IsSelf = isSelf != 0
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Self returns the node row flagged is_self, if any node has been
// configured as this process's own identity yet.
func (s *Store) Self() (Node, bool, error) {
	var n Node
	var isSelf int
	err := s.db.QueryRow(`SELECT id, conninfo, is_self FROM mtm_nodes WHERE is_self = 1 LIMIT 1`).
		Scan(&n.ID, &n.ConnInfo, &isSelf)
	if err == sql.ErrNoRows {
		return Node{}, false, nil
	}
	if err != nil {
		return Node{}, false, fmt.Errorf("catalog: query self: %w", err)
	}
	n.IsSelf = isSelf != 0
	return n, true, nil
}

// Configured reports whether the multimaster publication has been
// created: the point at which the cluster is considered fully set up
// and ready to accept distributed transactions.
func (s *Store) Configured() (bool, error) {
	var name string
	err := s.db.QueryRow(`SELECT name FROM mtm_publication WHERE name = ?`, multimasterPublication).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("catalog: query configured: %w", err)
	}
	return true, nil
}

// Configure creates the multimaster publication marker. Idempotent.
func (s *Store) Configure() error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO mtm_publication (name) VALUES (?)`, multimasterPublication)
	if err != nil {
		return fmt.Errorf("catalog: configure: %w", err)
	}
	return nil
}

// Unconfigure drops the multimaster publication marker, reverting the
// cluster to unconfigured. Idempotent.
func (s *Store) Unconfigure() error {
	_, err := s.db.Exec(`DELETE FROM mtm_publication WHERE name = ?`, multimasterPublication)
	if err != nil {
		return fmt.Errorf("catalog: unconfigure: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
