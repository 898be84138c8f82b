package pagestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/hupe1980/vecbuf/internal/page"
	"github.com/hupe1980/vecbuf/model"
)

var (
	badgerCountKey    = []byte("meta/npages")
	badgerPageSizeKey = []byte("meta/pagesize")
)

func badgerPageKey(addr model.PageAddr) []byte {
	k := make([]byte, 5+4)
	copy(k, "page/")
	binary.BigEndian.PutUint32(k[5:], uint32(addr))
	return k
}

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless InMemory.
	Dir string
	// InMemory runs BadgerDB without disk persistence, for tests.
	InMemory bool
	// PageSize of a new store. Ignored when opening an existing one.
	PageSize int
	// Logger receives badger warnings and errors.
	Logger *slog.Logger
}

// BadgerStore keeps each page under its own key. A commit is one badger
// read-write transaction with synchronous writes, so it is atomic and
// durable once Commit returns.
type BadgerStore struct {
	db       *badger.DB
	pageSize int
}

// OpenBadger opens or creates a BadgerStore.
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("pagestore: BadgerOptions.Dir is required for on-disk mode")
	}
	if opts.PageSize == 0 {
		opts.PageSize = page.DefaultPageSize
	}
	if err := page.ValidatePageSize(opts.PageSize); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dbOpts := badger.DefaultOptions(opts.Dir).
		WithLogger(badgerLogger{logger}).
		WithSyncWrites(true)
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("pagestore: open badger: %w", err)
	}

	s := &BadgerStore{db: db, pageSize: opts.PageSize}
	err = db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerPageSizeKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], uint32(opts.PageSize))
			return txn.Set(badgerPageSizeKey, buf[:])
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			s.pageSize = int(binary.LittleEndian.Uint32(val))
			return nil
		})
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BadgerStore) PageSize() int { return s.pageSize }

func numPagesTxn(txn *badger.Txn) (uint32, error) {
	item, err := txn.Get(badgerCountKey)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint32
	err = item.Value(func(val []byte) error {
		n = binary.LittleEndian.Uint32(val)
		return nil
	})
	return n, err
}

func (s *BadgerStore) NumPages(_ context.Context) (uint32, error) {
	var n uint32
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = numPagesTxn(txn)
		return err
	})
	return n, err
}

func (s *BadgerStore) ReadPage(_ context.Context, addr model.PageAddr) ([]byte, error) {
	var img []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerPageKey(addr))
		if err != nil {
			return err
		}
		img, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPageNotFound, addr)
	}
	return img, err
}

func (s *BadgerStore) Commit(_ context.Context, writes []PageWrite) error {
	return s.db.Update(func(txn *badger.Txn) error {
		n, err := numPagesTxn(txn)
		if err != nil {
			return err
		}
		next, err := validateWrites(n, s.pageSize, writes)
		if err != nil {
			return err
		}
		for _, w := range writes {
			if err := txn.Set(badgerPageKey(w.Addr), w.Image); err != nil {
				return err
			}
		}
		if next != n {
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], next)
			return txn.Set(badgerCountKey, buf[:])
		}
		return nil
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger forwards badger output to slog, dropping debug and info.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(f string, v ...interface{}) {
	b.l.Error(fmt.Sprintf(f, v...), "component", "badger")
}

func (b badgerLogger) Warningf(f string, v ...interface{}) {
	b.l.Warn(fmt.Sprintf(f, v...), "component", "badger")
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}

var _ Store = (*BadgerStore)(nil)
