// Package devnet is a single-process development ledger. It stores the
// message log, submitted transactions and a reverse name registry in
// SQLite and serves them over the same JSON-RPC methods the client uses
// against a real node.
package devnet

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"hoodhub.chat/hub/internal/ledger"
)

const (
	defaultDBFile        = "hoodhub_devnet.db"
	defaultBackupDirName = "backups"
	maxBusyTimeoutMs     = 5000
	defaultMaxBackups    = 20
)

var (
	errNoBackups = errors.New("no devnet backups available")

	// ErrTxNotFound is returned for unknown transaction hashes.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrDuplicateTx is returned when a transaction hash or nonce was
	// already submitted.
	ErrDuplicateTx = errors.New("transaction already submitted")
)

// Store persists devnet state in a SQLite database file.
type Store struct {
	mu        sync.RWMutex
	db        *sql.DB
	file      string
	backupDir string
	updates   chan struct{}
}

type backupInfo struct {
	path      string
	timestamp int64
}

// NewStore opens (or creates) the devnet database at filePath. A corrupt
// database is replaced by the newest backup, or by a fresh one when no
// backup exists.
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		filePath = defaultDBFile
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}

	s := &Store{
		file:      absPath,
		backupDir: filepath.Join(filepath.Dir(absPath), defaultBackupDirName),
		updates:   make(chan struct{}, 1),
	}

	if err := s.tryOpenOrRecover(); err != nil {
		return nil, err
	}

	if err := s.ensureSchema(); err != nil {
		_ = s.closeDB()
		return nil, err
	}

	return s, nil
}

// Updates returns a channel that receives a value whenever the log changes.
func (s *Store) Updates() <-chan struct{} {
	return s.updates
}

func (s *Store) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeDB()
}

func (s *Store) tryOpenOrRecover() error {
	if err := s.openDB(); err != nil {
		if recErr := s.recoverDatabase(err); recErr != nil {
			return recErr
		}
	}
	return nil
}

func (s *Store) openDB() error {
	if err := os.MkdirAll(filepath.Dir(s.file), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", filepath.Clean(s.file)))
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs)); err != nil {
		db.Close()
		return fmt.Errorf("set busy timeout: %w", err)
	}

	s.db = db
	return nil
}

func (s *Store) recoverDatabase(openErr error) error {
	if err := s.restoreLatestBackup(); err != nil {
		if errors.Is(err, errNoBackups) {
			if cleanErr := s.resetDatabaseFiles(); cleanErr != nil {
				return fmt.Errorf("reset database after %v: %w", openErr, cleanErr)
			}
			if err := s.openDB(); err != nil {
				return fmt.Errorf("create fresh database after %v: %w", openErr, err)
			}
			return nil
		}
		return fmt.Errorf("restore database after %v: %w", openErr, err)
	}
	return nil
}

func (s *Store) closeDB() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) resetDatabaseFiles() error {
	_ = s.closeDB()

	var firstErr error
	for _, path := range []string{s.file, s.file + "-wal", s.file + "-shm"} {
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %s: %w", filepath.Base(path), err)
			}
		}
	}
	return firstErr
}

func (s *Store) restoreLatestBackup() error {
	base := filepath.Base(s.file)
	ext := filepath.Ext(base)
	backups, err := listBackups(s.backupDir, strings.TrimSuffix(base, ext), ext)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return errNoBackups
	}

	latest := backups[len(backups)-1]
	if err := s.resetDatabaseFiles(); err != nil {
		return err
	}
	if err := copyFile(latest.path, s.file); err != nil {
		return fmt.Errorf("copy backup %s: %w", filepath.Base(latest.path), err)
	}
	return s.openDB()
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			position INTEGER PRIMARY KEY AUTOINCREMENT,
			ledger TEXT NOT NULL,
			author TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			tx_hash TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS messages_ledger ON messages (ledger, position)`,
		`CREATE TABLE IF NOT EXISTS txs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			hash TEXT NOT NULL UNIQUE,
			ledger TEXT NOT NULL,
			sender TEXT NOT NULL,
			text TEXT NOT NULL,
			nonce TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			height INTEGER NOT NULL DEFAULT 0,
			log TEXT,
			submitted_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS names (
			address TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			avatar TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}
	return nil
}

// Messages returns the log of ledgerAddr in append order.
func (s *Store) Messages(ledgerAddr ledger.Address) ([]ledger.RawRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT author, text, timestamp FROM messages
		WHERE ledger = ? ORDER BY position`, string(ledgerAddr.Normalize()))
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	records := []ledger.RawRecord{}
	for rows.Next() {
		var rec ledger.RawRecord
		var author string
		if err := rows.Scan(&author, &rec.Text, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		rec.Author = ledger.Address(author)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SubmitTx records a verified transaction as pending.
func (s *Store) SubmitTx(ledgerAddr ledger.Address, hash string, tx *ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM txs WHERE hash = ? OR nonce = ?`, hash, tx.Nonce).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check duplicate tx: %w", err)
	}
	if exists > 0 {
		return ErrDuplicateTx
	}

	_, err = s.db.Exec(`INSERT INTO txs (hash, ledger, sender, text, nonce, status, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		hash, string(ledgerAddr.Normalize()), string(tx.From), tx.Text, tx.Nonce,
		ledger.TxPending, formatTime(tx.Timestamp))
	if err != nil {
		return fmt.Errorf("insert tx: %w", err)
	}
	return nil
}

// CommitBlock includes every pending transaction, in submission order, at
// the next height. It returns the new height and the number of included
// transactions; when nothing is pending the height does not advance.
func (s *Store) CommitBlock(now time.Time) (int64, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("begin block: %w", err)
	}
	defer tx.Rollback()

	var height int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(height), 0) FROM txs`).Scan(&height); err != nil {
		return 0, 0, fmt.Errorf("read height: %w", err)
	}

	rows, err := tx.Query(`SELECT seq, hash, ledger, sender, text FROM txs
		WHERE status = ? ORDER BY seq`, ledger.TxPending)
	if err != nil {
		return 0, 0, fmt.Errorf("query pending: %w", err)
	}
	type pending struct {
		seq        int64
		hash       string
		ledgerAddr string
		sender     string
		text       string
	}
	var batch []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.seq, &p.hash, &p.ledgerAddr, &p.sender, &p.text); err != nil {
			rows.Close()
			return 0, 0, fmt.Errorf("scan pending: %w", err)
		}
		batch = append(batch, p)
	}
	rows.Close()
	if len(batch) == 0 {
		return height, 0, nil
	}

	height++
	for _, p := range batch {
		if _, err := tx.Exec(`INSERT INTO messages (ledger, author, text, timestamp, tx_hash)
			VALUES (?, ?, ?, ?, ?)`, p.ledgerAddr, p.sender, p.text, now.Unix(), p.hash); err != nil {
			return 0, 0, fmt.Errorf("append message: %w", err)
		}
		if _, err := tx.Exec(`UPDATE txs SET status = ?, height = ? WHERE seq = ?`,
			ledger.TxIncluded, height, p.seq); err != nil {
			return 0, 0, fmt.Errorf("mark included: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit block: %w", err)
	}
	s.notify()
	return height, len(batch), nil
}

// TxStatus reports a transaction by hash.
func (s *Store) TxStatus(hash string) (*ledger.TxStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var status ledger.TxStatus
	var logText sql.NullString
	err := s.db.QueryRow(`SELECT hash, status, height, log FROM txs WHERE hash = ?`, hash).
		Scan(&status.Hash, &status.Status, &status.Height, &logText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tx: %w", err)
	}
	status.Log = logText.String
	return &status, nil
}

// RegisterName sets the reverse record for addr.
func (s *Store) RegisterName(addr ledger.Address, name, avatar string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO names (address, name, avatar) VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET name = excluded.name, avatar = excluded.avatar`,
		string(addr.Normalize()), name, avatar)
	if err != nil {
		return fmt.Errorf("register name: %w", err)
	}
	return nil
}

// LookupAddress returns the name registered for addr, or "".
func (s *Store) LookupAddress(addr ledger.Address) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var name string
	err := s.db.QueryRow(`SELECT name FROM names WHERE address = ?`, string(addr.Normalize())).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup address: %w", err)
	}
	return name, nil
}

// Avatar returns the avatar URL registered for name, or "".
func (s *Store) Avatar(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var avatar sql.NullString
	err := s.db.QueryRow(`SELECT avatar FROM names WHERE name = ? LIMIT 1`, name).Scan(&avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup avatar: %w", err)
	}
	return avatar.String, nil
}

// BackupCurrent writes a consistent copy of the database to a timestamped
// file and prunes old backups beyond maxBackups. Returns the backup path.
func (s *Store) BackupCurrent(maxBackups int) (string, error) {
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backup directory: %w", err)
	}

	base := filepath.Base(s.file)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)
	if prefix == "" {
		prefix = base
	}

	timestamp := time.Now().Unix()
	var backupPath string
	for {
		backupPath = filepath.Join(s.backupDir, fmt.Sprintf("%s-%d%s", prefix, timestamp, ext))
		if _, err := os.Stat(backupPath); errors.Is(err, os.ErrNotExist) {
			break
		}
		timestamp++
	}

	s.mu.Lock()
	escaped := strings.ReplaceAll(backupPath, "'", "''")
	_, err := s.db.Exec(fmt.Sprintf("VACUUM INTO '%s'", escaped))
	s.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("vacuum into backup: %w", err)
	}

	pruneBackups(s.backupDir, prefix, ext, maxBackups)
	return backupPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func listBackups(dir, prefix, ext string) ([]backupInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup directory: %w", err)
	}

	var backups []backupInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix+"-") || (ext != "" && !strings.HasSuffix(name, ext)) {
			continue
		}

		tsPart := strings.TrimPrefix(strings.TrimSuffix(name, ext), prefix+"-")
		ts, parseErr := strconv.ParseInt(tsPart, 10, 64)
		if parseErr != nil {
			info, statErr := entry.Info()
			if statErr != nil {
				continue
			}
			ts = info.ModTime().Unix()
		}
		backups = append(backups, backupInfo{path: filepath.Join(dir, name), timestamp: ts})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].timestamp == backups[j].timestamp {
			return backups[i].path < backups[j].path
		}
		return backups[i].timestamp < backups[j].timestamp
	})
	return backups, nil
}

func pruneBackups(dir, prefix, ext string, maxBackups int) {
	backups, err := listBackups(dir, prefix, ext)
	if err != nil || len(backups) <= maxBackups {
		return
	}
	for i := 0; i < len(backups)-maxBackups; i++ {
		_ = os.Remove(backups[i].path)
	}
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
