package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/fireproof-storage/ucan-clock/email"
	"github.com/fireproof-storage/ucan-clock/service"
	"github.com/fireproof-storage/ucan-clock/stores/agents"
	"github.com/fireproof-storage/ucan-clock/stores/blob"
	"github.com/fireproof-storage/ucan-clock/stores/delegations"
	"github.com/fireproof-storage/ucan-clock/stores/kv"
	"github.com/storacha/go-ucanto/core/result"
	ed25519 "github.com/storacha/go-ucanto/principal/ed25519/signer"
	"github.com/storacha/go-ucanto/server"
	thttp "github.com/storacha/go-ucanto/transport/http"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(log); err != nil {
		log.Error("clockd failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	key := os.Getenv("CLOCK_SERVICE_PRIVATE_KEY")
	if key == "" {
		return errors.New("please set CLOCK_SERVICE_PRIVATE_KEY")
	}
	signer, err := ed25519.Parse(key)
	if err != nil {
		return fmt.Errorf("parsing service private key: %w", err)
	}

	serviceURL, err := url.Parse(envOr("CLOCK_SERVICE_URL", "http://localhost:8787"))
	if err != nil {
		return fmt.Errorf("parsing service URL: %w", err)
	}

	bucket, presigner := buildBucket(log)
	store := kv.NewMemoryStore()

	dlgs, err := delegations.NewPersistentStore(bucket, store)
	if err != nil {
		return err
	}

	var mailer email.Mailer
	if token := os.Getenv("POSTMARK_TOKEN"); token != "" && os.Getenv("EMAIL") != "" {
		mailer = email.NewPostmark(token, os.Getenv("EMAIL"), envOr("EMAIL_NAME", "Fireproof Storage"))
	} else {
		log.Warn("POSTMARK_TOKEN or EMAIL not set, share confirmation email disabled")
	}

	srv, err := service.NewServer(service.Context{
		Signer:      signer,
		URL:         serviceURL,
		Bucket:      bucket,
		Presigner:   presigner,
		KV:          store,
		Delegations: dlgs,
		Agents:      agents.NewStore(bucket, store),
		Mailer:      mailer,
		Log:         log,
	})
	if err != nil {
		return fmt.Errorf("creating UCAN server: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", handleRPC(srv))
	mux.HandleFunc("GET /validate-email", handleValidateEmail(srv))
	mux.HandleFunc("PUT /blob/{cid}", handleBlobPut(bucket))
	mux.HandleFunc("GET /did", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, signer.DID().String())
	})

	addr := envOr("CLOCK_LISTEN_ADDR", ":8787")
	log.Info("clockd listening", "addr", addr, "did", signer.DID().String())
	return http.ListenAndServe(addr, withCORS(mux))
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// buildBucket returns an S3 backed bucket when the S3_* variables are set,
// and an in-memory one otherwise.
func buildBucket(log *slog.Logger) (blob.Store, blob.PresignedPutter) {
	endpoint := os.Getenv("S3_ENDPOINT")
	bucketName := os.Getenv("S3_BUCKET")
	if endpoint == "" || bucketName == "" {
		log.Warn("S3_ENDPOINT or S3_BUCKET not set, using in-memory storage")
		return blob.NewMemoryStore(), nil
	}
	s3 := blob.NewS3Store(blob.S3Config{
		Endpoint:        endpoint,
		Region:          envOr("S3_REGION", "auto"),
		Bucket:          bucketName,
		AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
	})
	return s3, s3
}

func handleRPC(srv server.ServerView[server.Service]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := srv.Request(r.Context(), thttp.NewInboundRequest(r.URL, r.Body, r.Header))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for name, values := range resp.Headers() {
			for _, value := range values {
				w.Header().Add(name, value)
			}
		}
		w.WriteHeader(resp.Status())
		body := resp.Body()
		io.Copy(w, body)
		body.Close()
	}
}

// handleValidateEmail completes the share flow when the emailed
// confirmation link is followed.
func handleValidateEmail(srv server.ServerView[server.Service]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		encoded := r.URL.Query().Get("ucan")
		if encoded == "" {
			http.Error(w, "missing ucan query parameter", http.StatusBadRequest)
			return
		}
		conf, err := service.ExtractConfirmation(encoded)
		if err != nil {
			http.Error(w, "invalid delegation in validate-email confirmation url", http.StatusBadRequest)
			return
		}
		caps := conf.Capabilities()
		if len(caps) != 1 || caps[0].Can() != "clock/confirm-share" {
			http.Error(w, "invalid delegation in validate-email confirmation url", http.StatusBadRequest)
			return
		}

		rcpt, err := srv.Run(r.Context(), conf)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if _, x := result.Unwrap(rcpt.Out()); x != nil {
			http.Error(w, "confirmation failed", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "Email validated successfully.")
	}
}

// handleBlobPut accepts direct uploads of event blocks. The body must hash
// to the CID in the path.
func handleBlobPut(bucket blob.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := cid.Parse(r.PathValue("cid"))
		if err != nil {
			http.Error(w, "invalid CID", http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(r.Body)
		if err != nil || len(data) == 0 {
			http.Error(w, "expected a request body", http.StatusBadRequest)
			return
		}
		sum, err := multihash.Sum(data, c.Prefix().MhType, -1)
		if err != nil {
			http.Error(w, "unsupported hash function", http.StatusBadRequest)
			return
		}
		if !bytes.Equal(sum, c.Hash()) {
			http.Error(w, "content did not match given CID", http.StatusBadRequest)
			return
		}
		if err := bucket.Put(r.Context(), c.String(), data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Add("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET,HEAD,POST,PUT,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", r.Header.Get("Access-Control-Request-Headers"))
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
