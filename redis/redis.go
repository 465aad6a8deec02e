package redis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"gorenbridge/config"
	"gorenbridge/metrics"
	"gorenbridge/types"
)

var (
	// ErrNoNetworkHash is returned as a no-op when a transaction cannot be keyed yet
	ErrNoNetworkHash = errors.New("transaction has no network hash yet")
	ErrNotFound      = errors.New("local transaction not found")
)

const (
	ownersKey       = "localtxs:owners"
	maxWatchRetries = 16
)

// LocalTx is a transaction that can be persisted once its network hash is known.
type LocalTx interface {
	NetworkHash() string
	TransferParams() types.TransferParams
}

// sourceHasher is implemented by transactions that know their lock-stage hash
type sourceHasher interface {
	SourceHash() string
}

// Filter restricts GetLocalTxsForAddress to one done value and, optionally,
// one source chain.
type Filter struct {
	Done bool
	From types.Chain
}

// Store is the local transaction store: owner address -> network hash -> LocalTxData.
// Every owner is a Redis hash, field = network hash, value = JSON record.
type Store struct {
	pool     *redis.Pool
	decimals types.DecimalsFunc
	now      func() time.Time
}

func timeoutDialOptions(db int) []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
		redis.DialDatabase(db),
	}
}

func NewPool(addr string, db int) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 240 * time.Second,
		Dial:        func() (redis.Conn, error) { return redis.Dial("tcp", addr, timeoutDialOptions(db)...) },
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

func New(pool *redis.Pool, decimals types.DecimalsFunc) *Store {
	return &Store{pool: pool, decimals: decimals, now: time.Now}
}

// Init connects to the Redis configured in cfg, without persistence do not continue
func Init(cfg *config.Configuration) *Store {
	addr := fmt.Sprintf("%s:%d", cfg.Server.RedisHost, cfg.Server.RedisPort)
	s := New(NewPool(addr, cfg.Server.RedisDB), cfg.Decimals)

	if err := s.Ping(); err != nil {
		log.Fatalf("error connecting to Redis at %s: %s", addr, err.Error())
	}
	return s
}

func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) Ping() error {
	conn := s.pool.Get()
	defer conn.Close()

	_, err := conn.Do("PING")
	return err
}

// hex addresses are case-insensitive, base58 and bech32 ones are kept as-is
func normalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		return strings.ToLower(address)
	}
	return address
}

func ownerKey(address string) string {
	return "localtxs:" + normalizeAddress(address)
}

// PersistLocalTx upserts the record of tx for address. It is a no-op
// (ErrNoNetworkHash) while tx has no network hash. An existing record only
// changes when done flips it from false to true; concurrent writers are
// serialized with WATCH so done never reverts.
func (s *Store) PersistLocalTx(address string, tx LocalTx, done bool) error {
	if tx == nil || tx.NetworkHash() == "" {
		return ErrNoNetworkHash
	}
	if address == "" {
		return errors.New("empty owner address")
	}
	hash := tx.NetworkHash()
	key := ownerKey(address)

	conn := s.pool.Get()
	defer conn.Close()

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		if _, err := conn.Do("WATCH", key); err != nil {
			log.Printf("error Redis WATCH: %s", err.Error())
			return err
		}

		existing, err := s.get(conn, key, hash)
		if err != nil && !errors.Is(err, ErrNotFound) {
			conn.Do("UNWATCH")
			return err
		}

		var next types.LocalTxData
		switch {
		case existing == nil:
			next = types.LocalTxData{
				Version:   types.LocalTxVersion,
				Params:    tx.TransferParams(),
				Timestamp: s.now().UnixMilli(),
				Done:      done,
			}
			if sh, ok := tx.(sourceHasher); ok {
				next.InHash = sh.SourceHash()
			}
		case done && !existing.Done:
			next = *existing
			next.Version = types.LocalTxVersion
			next.Done = true
		default:
			conn.Do("UNWATCH")
			return nil
		}

		payload, err := json.Marshal(next)
		if err != nil {
			conn.Do("UNWATCH")
			return errors.Wrap(err, "cannot marshal local tx to JSON")
		}

		conn.Send("MULTI")
		conn.Send("HSET", key, hash, payload)
		conn.Send("SADD", ownersKey, normalizeAddress(address))
		_, err = redis.Values(conn.Do("EXEC"))
		if errors.Is(err, redis.ErrNil) {
			// watched key changed under us, re-read and retry
			continue
		}
		if err != nil {
			log.Printf("error Redis EXEC: %s", err.Error())
			return err
		}

		log.WithFields(log.Fields{"module": "store", "address": address, "hash": hash, "done": next.Done}).Info("local tx persisted")
		metrics.StoreWrites.WithLabelValues(fmt.Sprintf("%t", next.Done)).Inc()
		return nil
	}

	return errors.Errorf("cannot persist local tx %s: too much contention", hash)
}

func (s *Store) get(conn redis.Conn, key, hash string) (*types.LocalTxData, error) {
	raw, err := redis.Bytes(conn.Do("HGET", key, hash))
	if errors.Is(err, redis.ErrNil) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Printf("error Redis HGET: %s", err.Error())
		return nil, err
	}
	data, err := types.DecodeLocalTx(raw, s.decimals)
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// FindLocalTx returns the stored transfer params for (address, hash), or ErrNotFound.
func (s *Store) FindLocalTx(address, hash string) (*types.LocalTxData, error) {
	conn := s.pool.Get()
	defer conn.Close()

	return s.get(conn, ownerKey(address), hash)
}

// GetLocalTxsForAddress returns hash -> record for address restricted by f.
// Map order is meaningless, see SortByTimestamp.
func (s *Store) GetLocalTxsForAddress(address string, f Filter) (types.LocalTxs, error) {
	conn := s.pool.Get()
	defer conn.Close()

	entries, err := redis.StringMap(conn.Do("HGETALL", ownerKey(address)))
	if err != nil {
		log.Printf("error Redis HGETALL: %s", err.Error())
		return nil, err
	}

	out := make(types.LocalTxs, len(entries))
	for hash, raw := range entries {
		data, err := types.DecodeLocalTx([]byte(raw), s.decimals)
		if err != nil {
			// a single corrupt record must not hide the rest of the history
			log.WithFields(log.Fields{"module": "store", "address": address, "hash": hash}).Warnf("skipping unreadable local tx: %s", err)
			continue
		}
		if data.Done != f.Done {
			continue
		}
		if f.From != "" && data.Params.From != f.From {
			continue
		}
		out[hash] = data
	}
	return out, nil
}

// RemoveLocalTx deletes (address, hash). Absent entries are ignored. The
// owner leaves the index together with its last record, under WATCH so a
// concurrent PersistLocalTx keeps it indexed.
func (s *Store) RemoveLocalTx(address, hash string) error {
	conn := s.pool.Get()
	defer conn.Close()

	key := ownerKey(address)
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		if _, err := conn.Do("WATCH", key); err != nil {
			log.Printf("error Redis WATCH: %s", err.Error())
			return err
		}

		exists, err := redis.Bool(conn.Do("HEXISTS", key, hash))
		if err != nil {
			conn.Do("UNWATCH")
			log.Printf("error Redis HEXISTS: %s", err.Error())
			return err
		}
		if !exists {
			conn.Do("UNWATCH")
			return nil
		}
		left, err := redis.Int(conn.Do("HLEN", key))
		if err != nil {
			conn.Do("UNWATCH")
			log.Printf("error Redis HLEN: %s", err.Error())
			return err
		}

		conn.Send("MULTI")
		conn.Send("HDEL", key, hash)
		if left <= 1 {
			conn.Send("SREM", ownersKey, normalizeAddress(address))
		}
		_, err = redis.Values(conn.Do("EXEC"))
		if errors.Is(err, redis.ErrNil) {
			continue
		}
		if err != nil {
			log.Printf("error Redis EXEC: %s", err.Error())
			return err
		}

		log.WithFields(log.Fields{"module": "store", "address": address, "hash": hash}).Info("local tx removed")
		return nil
	}

	return errors.Errorf("cannot remove local tx %s: too much contention", hash)
}

// Count returns the number of records stored for address
func (s *Store) Count(address string) (int, error) {
	conn := s.pool.Get()
	defer conn.Close()

	return redis.Int(conn.Do("HLEN", ownerKey(address)))
}

// Addresses lists every owner with at least one stored record
func (s *Store) Addresses() ([]string, error) {
	conn := s.pool.Get()
	defer conn.Close()

	addrs, err := redis.Strings(conn.Do("SMEMBERS", ownersKey))
	if err != nil {
		return nil, err
	}
	sort.Strings(addrs)
	return addrs, nil
}

// Entry is a LocalTxData together with its network hash
type Entry struct {
	Hash string `json:"hash"`
	types.LocalTxData
}

// SortByTimestamp orders records newest first, ties broken by hash.
func SortByTimestamp(txs types.LocalTxs) []Entry {
	out := make([]Entry, 0, len(txs))
	for hash, data := range txs {
		out = append(out, Entry{Hash: hash, LocalTxData: data})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}
