package middleware

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/Strob0t/ReviewForge/internal/port/cache"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotencyBody   = 1 << 20 // 1 MB
)

// idempotencyEntry stores a cached HTTP response.
type idempotencyEntry struct {
	Fingerprint string              `json:"fingerprint"`
	StatusCode  int                 `json:"status_code"`
	Headers     map[string][]string `json:"headers"`
	Body        []byte              `json:"body"`
}

// Idempotency returns middleware that deduplicates mutating requests carrying
// an Idempotency-Key header. Keys are scoped by method and path. Replaying a
// key with a different request body yields 422, a duplicate arriving while
// the first is still running yields 409, and 5xx responses are never stored.
func Idempotency(store cache.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	var inflight sync.Map

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			idemKey := r.Header.Get(headerIdempotencyKey)
			if idemKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotencyBody+1))
			if err != nil {
				writeMiddlewareError(w, http.StatusBadRequest, "failed to read request body")
				return
			}
			if len(body) > maxIdempotencyBody {
				// Too large to fingerprint; pass through untracked.
				r.Body = readCloser{io.MultiReader(bytes.NewReader(body), r.Body), r.Body}
				next.ServeHTTP(w, r)
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := scopedKey(r.Method, r.URL.Path, idemKey)
			fingerprint := digest(body)
			ctx := r.Context()

			data, found, err := store.Get(ctx, key)
			if err != nil {
				slog.WarnContext(ctx, "idempotency: lookup failed", "key", idemKey, "error", err)
			}
			if found {
				var cached idempotencyEntry
				if err := json.Unmarshal(data, &cached); err == nil {
					if cached.Fingerprint != fingerprint {
						writeMiddlewareError(w, http.StatusUnprocessableEntity, "idempotency key reused with a different request body")
						return
					}
					replay(w, &cached)
					return
				}
				slog.WarnContext(ctx, "idempotency: corrupt cache entry", "key", idemKey)
			}

			if _, busy := inflight.LoadOrStore(key, struct{}{}); busy {
				writeMiddlewareError(w, http.StatusConflict, "a request with this idempotency key is in progress")
				return
			}
			defer inflight.Delete(key)

			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= http.StatusInternalServerError || rec.body.Len() > maxIdempotencyBody {
				return
			}
			entry := idempotencyEntry{
				Fingerprint: fingerprint,
				StatusCode:  rec.statusCode,
				Headers:     w.Header().Clone(),
				Body:        rec.body.Bytes(),
			}
			encoded, err := json.Marshal(entry)
			if err != nil {
				return
			}
			if err := store.Set(ctx, key, encoded, ttl); err != nil {
				slog.WarnContext(ctx, "idempotency: failed to store response", "key", idemKey, "error", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, cached *idempotencyEntry) {
	for k, vals := range cached.Headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(headerReplayed, "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}

func scopedKey(method, path, key string) string {
	return "idem:" + digest([]byte(method+" "+path+" "+key))
}

func digest(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:16])
}

func writeMiddlewareError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

type readCloser struct {
	io.Reader
	io.Closer
}

// responseRecorder wraps http.ResponseWriter to capture the response.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
