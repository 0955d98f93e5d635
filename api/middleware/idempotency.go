package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/packfinderz-payouts/api/responses"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
	pkgredis "github.com/angelmondragon/packfinderz-payouts/pkg/redis"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	ReplayHeader         = "Idempotent-Replayed"

	DefaultIdempotencyTTL = 24 * time.Hour
	// PayoutIdempotencyTTL covers endpoints that move money.
	PayoutIdempotencyTTL = 7 * 24 * time.Hour
)

type idempotencyRecord struct {
	Status      int               `json:"status"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

// Idempotency requires an Idempotency-Key header and replays the stored
// response for repeats of the same key and body. Server errors are not
// stored so the caller can retry them. Attach it per route with r.With.
func Idempotency(store pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			idemKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if idemKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, IdempotencyKeyHeader+" header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(body)
			key := store.IdempotencyKey(buildScope(r), idemKey)

			stored, err := store.Get(ctx, key)
			if err != nil && !errors.Is(err, redis.Nil) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			if stored != "" {
				var record idempotencyRecord
				if err := json.Unmarshal([]byte(stored), &record); err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
					return
				}
				if record.RequestHash != requestHash {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
					return
				}
				writeStoredResponse(w, &record)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.statusCode()
			if status >= http.StatusInternalServerError {
				return
			}
			record := idempotencyRecord{
				Status:      status,
				Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
				RequestHash: requestHash,
			}
			if ct := rec.Header().Get("Content-Type"); ct != "" {
				record.Headers = map[string]string{"Content-Type": ct}
			}
			payload, err := json.Marshal(record)
			if err != nil {
				logError(r, logg, "marshal idempotency record", err)
				return
			}
			if _, err := store.SetNX(ctx, key, string(payload), ttl); err != nil {
				logError(r, logg, "persist idempotency record", err)
			}
		})
	}
}

// buildScope ties a key to the caller and the exact endpoint so two admins
// never collide on the same key.
func buildScope(r *http.Request) string {
	return strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func writeStoredResponse(w http.ResponseWriter, record *idempotencyRecord) {
	if ct := record.Headers["Content-Type"]; ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set(ReplayHeader, "true")
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func logError(r *http.Request, logg *logger.Logger, msg string, err error) {
	if logg == nil {
		return
	}
	logg.Error(r.Context(), msg, err)
}
