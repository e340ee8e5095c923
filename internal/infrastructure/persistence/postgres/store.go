package postgres

// Store bundles the repositories over one pool so the composition root can
// hand a single value to every port.
type Store struct {
	*CatalogRepository
	*ProgressRepository
	*DocumentRepository
	*AchievementRepository

	conn *Connection
}

// NewStore creates a Store over conn.
func NewStore(conn *Connection) *Store {
	return &Store{
		CatalogRepository:     NewCatalogRepository(conn),
		ProgressRepository:    NewProgressRepository(conn),
		DocumentRepository:    NewDocumentRepository(conn),
		AchievementRepository: NewAchievementRepository(conn),
		conn:                  conn,
	}
}

// Connection returns the underlying pool wrapper.
func (s *Store) Connection() *Connection {
	return s.conn
}
