// Package storage keeps uploaded attachments on local disk behind signed,
// expiring write URLs.
package storage

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/blake2b"

	"marketchat/internal/logger"
	"marketchat/internal/types"
)

var (
	ErrBadKey       = errors.New("malformed object key")
	ErrBadSignature = errors.New("upload signature mismatch")
	ErrExpired      = errors.New("upload url expired")
	ErrNotReserved  = errors.New("no pending upload for key")
	ErrTooLarge     = errors.New("upload exceeds size limit")
)

const pendingDir = ".pending"

type reservation struct {
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type Store struct {
	dir     string
	baseURL string
	key     []byte
	ttl     time.Duration
	maxSize int64
	now     func() time.Time
	log     *logger.Logger
}

type Options struct {
	Dir        string
	BaseURL    string
	SigningKey string
	TTL        time.Duration
	MaxSize    int64
	Log        *logger.Logger
}

func New(o Options) (*Store, error) {
	if o.TTL == 0 {
		o.TTL = 15 * time.Minute
	}
	if o.MaxSize == 0 {
		o.MaxSize = 25 << 20
	}
	if o.Log == nil {
		o.Log = logger.Nop()
	}
	// blake2b keyed mode accepts at most 64 key bytes.
	sum := blake2b.Sum512([]byte(o.SigningKey))
	if err := os.MkdirAll(filepath.Join(o.Dir, pendingDir), 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{
		dir:     o.Dir,
		baseURL: strings.TrimRight(o.BaseURL, "/"),
		key:     sum[:],
		ttl:     o.TTL,
		maxSize: o.MaxSize,
		now:     time.Now,
		log:     o.Log.With("component", "STORAGE"),
	}, nil
}

func (s *Store) MaxSize() int64 { return s.maxSize }

func (s *Store) sign(key string, expires int64) string {
	h, _ := blake2b.New256(s.key)
	fmt.Fprintf(h, "PUT\n%s\n%d", key, expires)
	return hex.EncodeToString(h.Sum(nil))
}

func extension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > 9 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func validKey(key string) bool {
	if len(key) < ulid.EncodedSize {
		return false
	}
	if _, err := ulid.ParseStrict(key[:ulid.EncodedSize]); err != nil {
		return false
	}
	rest := key[ulid.EncodedSize:]
	return rest == "" || extension("x"+rest) == rest
}

// Prepare reserves an object key for owner and returns where to PUT the
// bytes and where they will be readable afterwards.
func (s *Store) Prepare(owner string, req types.PrepareUploadRequest) (types.PrepareUploadResponse, error) {
	if strings.TrimSpace(req.Filename) == "" {
		return types.PrepareUploadResponse{}, errors.New("filename is required")
	}
	if req.Size > s.maxSize {
		return types.PrepareUploadResponse{}, ErrTooLarge
	}
	key := ulid.Make().String() + extension(req.Filename)
	expires := s.now().Add(s.ttl).Truncate(time.Second)

	res := reservation{Owner: owner, Name: req.Filename, ContentType: req.ContentType, ExpiresAt: expires}
	raw, err := json.Marshal(res)
	if err != nil {
		return types.PrepareUploadResponse{}, err
	}
	if err := os.WriteFile(s.pendingPath(key), raw, 0o644); err != nil {
		return types.PrepareUploadResponse{}, fmt.Errorf("reserve %s: %w", key, err)
	}

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires.Unix(), 10))
	q.Set("sig", s.sign(key, expires.Unix()))
	s.log.Debug("upload reserved", "key", key, "owner", owner, "expires", expires)
	return types.PrepareUploadResponse{
		FileURL:   s.baseURL + "/uploads/" + key + "?" + q.Encode(),
		PublicURL: s.baseURL + "/files/" + key,
		ExpiresAt: expires,
	}, nil
}

func (s *Store) pendingPath(key string) string {
	return filepath.Join(s.dir, pendingDir, key+".json")
}

// Verify checks a signed write URL's parameters for key.
func (s *Store) Verify(key, expires, sig string) error {
	if !validKey(key) {
		return ErrBadKey
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	want := s.sign(key, exp)
	if subtle.ConstantTimeCompare([]byte(want), []byte(sig)) != 1 {
		return ErrBadSignature
	}
	if s.now().Unix() > exp {
		return ErrExpired
	}
	return nil
}

// Write stores body under a reserved key. The reservation is claimed by
// rename before any bytes are read, so only one writer per key gets past
// it. A failed write puts the reservation back.
func (s *Store) Write(key, expires, sig string, body io.Reader) (int64, error) {
	if err := s.Verify(key, expires, sig); err != nil {
		return 0, err
	}
	pending := s.pendingPath(key)
	claimed := pending + ".claimed"
	if err := os.Rename(pending, claimed); err != nil {
		return 0, ErrNotReserved
	}

	n, err := s.commit(key, body)
	if err != nil {
		if rerr := os.Rename(claimed, pending); rerr != nil {
			s.log.Warn("reservation not restored", "key", key, "error", rerr)
		}
		return 0, err
	}
	os.Remove(claimed)
	s.log.Info("upload stored", "key", key, "bytes", n)
	return n, nil
}

func (s *Store) commit(key string, body io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(body, s.maxSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", key, err)
	}
	if n > s.maxSize {
		return 0, ErrTooLarge
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, key)); err != nil {
		return 0, fmt.Errorf("commit %s: %w", key, err)
	}
	return n, nil
}

// Open returns a stored object for reading.
func (s *Store) Open(key string) (*os.File, error) {
	if !validKey(key) {
		return nil, ErrBadKey
	}
	return os.Open(filepath.Join(s.dir, key))
}

// Sweep drops reservations whose write URL expired unused. It returns how
// many were removed.
func (s *Store) Sweep() (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, pendingDir))
	if err != nil {
		return 0, err
	}
	now := s.now()
	removed := 0
	for _, e := range entries {
		path := filepath.Join(s.dir, pendingDir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var res reservation
		if err := json.Unmarshal(raw, &res); err != nil || now.After(res.ExpiresAt) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		s.log.Info("expired reservations removed", "count", removed)
	}
	return removed, nil
}
