package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/debemdeboas/forum-attachments/internal/config"
	"github.com/debemdeboas/forum-attachments/internal/model"
	"github.com/rs/zerolog"
)

var authLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	authLogger = l
}

var (
	ErrNoActor       = errors.New("no actor in context")
	ErrCannotAttach  = errors.New("actor may not attach images")
	ErrBadSignature  = errors.New("invalid actor signature")
	errNoActorHeader = errors.New("empty actor header")
)

// GatewayAuthProvider trusts identity headers set by the gateway in front of
// the service. With a public key configured, the headers must also carry
// the gateway's Ed25519 signature.
type GatewayAuthProvider struct {
	publicKey ed25519.PublicKey

	actorHeader     string
	canAttachHeader string
	signatureHeader string
}

func NewGatewayAuthProvider(cfg config.AuthConfig) (*GatewayAuthProvider, error) {
	p := &GatewayAuthProvider{
		actorHeader:     cfg.ActorHeader,
		canAttachHeader: cfg.CanAttachHeader,
		signatureHeader: cfg.SignatureHeader,
	}
	if cfg.GatewayPublicKey != "" {
		key, err := ParsePublicKeyPEM(cfg.GatewayPublicKey)
		if err != nil {
			return nil, err
		}
		p.publicKey = key
	} else {
		authLogger.Warn().Msg("No gateway public key configured, trusting identity headers as-is")
	}
	return p, nil
}

// SigningMessage is the payload the gateway signs: "<actorId>:<canAttach>".
func SigningMessage(actor Actor) []byte {
	return []byte(string(actor.ID) + ":" + strconv.FormatBool(actor.CanAttach))
}

// SignActor returns the base64 signature header value for actor.
func SignActor(key ed25519.PrivateKey, actor Actor) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, SigningMessage(actor)))
}

// WithHeaderAuthorization returns middleware that puts the asserted actor in
// the request context. Requests with missing or badly signed headers proceed
// without one.
func (p *GatewayAuthProvider) WithHeaderAuthorization() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := p.actorFromHeaders(r)
			if err != nil {
				if !errors.Is(err, errNoActorHeader) {
					zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Rejected gateway identity")
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
		})
	}
}

func (p *GatewayAuthProvider) actorFromHeaders(r *http.Request) (Actor, error) {
	id := strings.TrimSpace(r.Header.Get(p.actorHeader))
	if id == "" {
		return Actor{}, errNoActorHeader
	}
	canAttach, _ := strconv.ParseBool(strings.TrimSpace(r.Header.Get(p.canAttachHeader)))
	actor := Actor{ID: model.UserID(id), CanAttach: canAttach}

	if p.publicKey == nil {
		return actor, nil
	}
	signature, err := base64.StdEncoding.DecodeString(strings.TrimSpace(r.Header.Get(p.signatureHeader)))
	if err != nil || len(signature) == 0 {
		return Actor{}, ErrBadSignature
	}
	if !ed25519.Verify(p.publicKey, SigningMessage(actor), signature) {
		return Actor{}, ErrBadSignature
	}
	return actor, nil
}

// GetActorFromRequest extracts the actor from the request
func (p *GatewayAuthProvider) GetActorFromRequest(r *http.Request) (Actor, error) {
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		return Actor{}, ErrNoActor
	}
	return actor, nil
}

func (p *GatewayAuthProvider) EnforceActor(w http.ResponseWriter, r *http.Request) (Actor, error) {
	actor, err := p.GetActorFromRequest(r)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Unauthorized access attempt")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return Actor{}, err
	}
	return actor, nil
}

func (p *GatewayAuthProvider) EnforceCanAttach(w http.ResponseWriter, r *http.Request) (Actor, error) {
	actor, err := p.EnforceActor(w, r)
	if err != nil {
		return Actor{}, err
	}
	if !actor.CanAttach {
		zerolog.Ctx(r.Context()).Warn().Str("actor", string(actor.ID)).Msg("Actor may not attach images")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return Actor{}, ErrCannotAttach
	}
	return actor, nil
}
