// Package connectors persists database connector settings (connectors.json)
// and the MCP client configuration (mcp.json) that points tool hosts at askdb.
package connectors

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	ConnectorsFile = "connectors.json"
	MCPFile        = "mcp.json"

	// DefaultServerName is the mcpServers key askdb registers under.
	DefaultServerName = "analytics-sqlite"

	DefaultSQLitePath = "./data/sales.db"
)

// Connector names.
const (
	SQLite     = "sqlite"
	PostgreSQL = "postgresql"
	MySQL      = "mysql"
	MSSQL      = "mssql"
	MongoDB    = "mongodb"
)

// SQLiteSettings locates a database file.
type SQLiteSettings struct {
	Path string `json:"path"`
}

// ServerSettings describes a networked SQL server.
type ServerSettings struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// MSSQLSettings describes a SQL Server instance.
type MSSQLSettings struct {
	Server   string `json:"server"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// MongoSettings describes a MongoDB collection.
type MongoSettings struct {
	URI        string `json:"uri"`
	Database   string `json:"database"`
	Collection string `json:"collection"`
}

// Connectors is the content of connectors.json.
type Connectors struct {
	Active     string         `json:"active"`
	SQLite     SQLiteSettings `json:"sqlite"`
	PostgreSQL ServerSettings `json:"postgresql"`
	MySQL      ServerSettings `json:"mysql"`
	MSSQL      MSSQLSettings  `json:"mssql"`
	MongoDB    MongoSettings  `json:"mongodb"`
}

// Defaults returns the settings used when connectors.json does not exist.
func Defaults() *Connectors {
	return &Connectors{
		Active:     SQLite,
		SQLite:     SQLiteSettings{Path: DefaultSQLitePath},
		PostgreSQL: ServerSettings{Port: "5432"},
		MySQL:      ServerSettings{Port: "3306"},
	}
}

// Normalize trims every string field and restores the default active connector.
func (c *Connectors) Normalize() {
	for _, p := range c.stringFields() {
		*p.value = strings.TrimSpace(*p.value)
	}

	if c.Active == "" {
		c.Active = SQLite
	}
}

type field struct {
	key   string
	value *string
}

func (c *Connectors) stringFields() []field {
	return []field{
		{"ACTIVE", &c.Active},
		{"SQLITE_PATH", &c.SQLite.Path},
		{"POSTGRESQL_HOST", &c.PostgreSQL.Host},
		{"POSTGRESQL_PORT", &c.PostgreSQL.Port},
		{"POSTGRESQL_DATABASE", &c.PostgreSQL.Database},
		{"POSTGRESQL_USERNAME", &c.PostgreSQL.Username},
		{"POSTGRESQL_PASSWORD", &c.PostgreSQL.Password},
		{"MYSQL_HOST", &c.MySQL.Host},
		{"MYSQL_PORT", &c.MySQL.Port},
		{"MYSQL_DATABASE", &c.MySQL.Database},
		{"MYSQL_USERNAME", &c.MySQL.Username},
		{"MYSQL_PASSWORD", &c.MySQL.Password},
		{"MSSQL_SERVER", &c.MSSQL.Server},
		{"MSSQL_DATABASE", &c.MSSQL.Database},
		{"MSSQL_USERNAME", &c.MSSQL.Username},
		{"MSSQL_PASSWORD", &c.MSSQL.Password},
		{"MONGODB_URI", &c.MongoDB.URI},
		{"MONGODB_DATABASE", &c.MongoDB.Database},
		{"MONGODB_COLLECTION", &c.MongoDB.Collection},
	}
}

// Env flattens the settings into the env block written to mcp.json.
func (c *Connectors) Env() map[string]string {
	sqlitePath := c.SQLite.Path
	if sqlitePath == "" {
		sqlitePath = DefaultSQLitePath
	}

	env := map[string]string{
		"MCP_DB_PATH": sqlitePath,
		"ACTIVE_DB":   c.Active,
	}

	for _, f := range c.stringFields() {
		if f.key == "ACTIVE" {
			continue
		}

		env[f.key] = *f.value
	}

	return env
}

// MCPServer is one entry of mcp.json's mcpServers map.
type MCPServer struct {
	Command   string            `json:"command"`
	Args      []string          `json:"args"`
	Env       map[string]string `json:"env"`
	Transport map[string]string `json:"transport,omitempty"`
}

// MCPConfig is the content of mcp.json.
type MCPConfig struct {
	MCPServers map[string]*MCPServer `json:"mcpServers"`
}

// DBPath returns the server's MCP_DB_PATH, or "" if unset.
func (m *MCPConfig) DBPath(serverName string) string {
	server, ok := m.MCPServers[serverName]
	if !ok || server == nil {
		return ""
	}

	return server.Env["MCP_DB_PATH"]
}

// Server returns the named server entry, creating the askdb stdio entry if missing.
func (m *MCPConfig) Server(serverName string) *MCPServer {
	if m.MCPServers == nil {
		m.MCPServers = map[string]*MCPServer{}
	}

	server, ok := m.MCPServers[serverName]
	if !ok || server == nil {
		server = &MCPServer{
			Command:   "askdb",
			Args:      []string{"mcp"},
			Env:       map[string]string{},
			Transport: map[string]string{"type": "stdio"},
		}
		m.MCPServers[serverName] = server
	}

	if server.Env == nil {
		server.Env = map[string]string{}
	}

	return server
}

// Store reads and writes the two settings files under a base directory.
type Store struct {
	baseDir    string
	serverName string
	mu         sync.Mutex
}

// NewStore creates a store rooted at baseDir.
func NewStore(baseDir, serverName string) *Store {
	if serverName == "" {
		serverName = DefaultServerName
	}

	return &Store{baseDir: baseDir, serverName: serverName}
}

// BaseDir returns the directory the store reads from.
func (s *Store) BaseDir() string { return s.baseDir }

// ServerName returns the mcpServers key the store manages.
func (s *Store) ServerName() string { return s.serverName }

// Load returns connectors.json, or Defaults when the file does not exist.
func (s *Store) Load() (*Connectors, error) {
	c := Defaults()

	found, err := readJSON(filepath.Join(s.baseDir, ConnectorsFile), c)
	if err != nil {
		return nil, err
	}

	if !found {
		return Defaults(), nil
	}

	return c, nil
}

// Save normalizes and writes connectors.json, then mirrors it into mcp.json.
func (s *Store) Save(c *Connectors) error {
	c.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(filepath.Join(s.baseDir, ConnectorsFile), c); err != nil {
		return err
	}

	cfg, err := s.loadMCP()
	if err != nil {
		return err
	}

	server := cfg.Server(s.serverName)
	for k, v := range c.Env() {
		server.Env[k] = v
	}

	return writeJSON(filepath.Join(s.baseDir, MCPFile), cfg)
}

// LoadMCP returns mcp.json, or an empty config when the file does not exist.
func (s *Store) LoadMCP() (*MCPConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadMCP()
}

func (s *Store) loadMCP() (*MCPConfig, error) {
	cfg := &MCPConfig{}
	if _, err := readJSON(filepath.Join(s.baseDir, MCPFile), cfg); err != nil {
		return nil, err
	}

	if cfg.MCPServers == nil {
		cfg.MCPServers = map[string]*MCPServer{}
	}

	return cfg, nil
}

// SetDBPath updates MCP_DB_PATH for the managed server.
func (s *Store) SetDBPath(dbPath string) (*MCPConfig, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadMCP()
	if err != nil {
		return nil, err
	}

	cfg.Server(s.serverName).Env["MCP_DB_PATH"] = dbPath

	if err := writeJSON(filepath.Join(s.baseDir, MCPFile), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ResolveSQLitePath returns the database file askdb should open: MCP_DB_PATH
// from mcp.json (relative paths are anchored at the base directory), else
// data/sales.db under the base directory. An unreadable mcp.json is ignored.
func (s *Store) ResolveSQLitePath() string {
	if cfg, err := s.LoadMCP(); err == nil {
		if candidate := cfg.DBPath(s.serverName); candidate != "" {
			return s.anchor(candidate)
		}
	}

	return s.anchor(DefaultSQLitePath)
}

func (s *Store) anchor(path string) string {
	if filepath.IsAbs(path) {
		return path
	}

	abs, err := filepath.Abs(filepath.Join(s.baseDir, path))
	if err != nil {
		return filepath.Join(s.baseDir, path)
	}

	return abs
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	return true, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", filepath.Base(path), err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	return nil
}
