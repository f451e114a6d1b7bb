package accounts

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/argon2"

	"github.com/isadetaseek/andrea/internal/apperror"
)

// sessionKeyPrefix is the Redis key prefix for session data.
const sessionKeyPrefix = "session:"

// sessionTokenBytes is the number of random bytes in a session token.
// 32 bytes = 256 bits of entropy, hex-encoded to 64 characters.
const sessionTokenBytes = 32

// minPasswordLen is the minimum accepted password length. Shorter passwords
// are rejected with CodeWeakPassword before any hashing happens.
const minPasswordLen = 6

// argon2id parameters tuned for a self-hosted application running on
// modest hardware (2-4 CPU cores, 2-4 GB RAM). These follow OWASP
// recommendations for argon2id: memory=64MB, iterations=3, parallelism=4.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // 64 MB in KiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// emailPattern matches a plausible email address: no whitespace, exactly one
// @, and a dot in the domain part.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Provider defines the business logic contract for account management.
// Handlers call these methods -- they never touch the repository directly.
// Every failure is a *ProviderError carrying one of the closed codes.
type Provider interface {
	CreateAccount(ctx context.Context, input RegisterInput) (*Account, error)
	SignIn(ctx context.Context, input LoginInput) (token string, acct *Account, err error)
	ValidateSession(ctx context.Context, token string) (*Session, error)
	SignOut(ctx context.Context, token string) error
}

// provider implements Provider with argon2id hashing and Redis sessions.
type provider struct {
	repo       Repository
	redis      *redis.Client
	sessionTTL time.Duration
}

// NewProvider creates a new account provider with the given dependencies.
func NewProvider(repo Repository, rdb *redis.Client, sessionTTL time.Duration) Provider {
	return &provider{
		repo:       repo,
		redis:      rdb,
		sessionTTL: sessionTTL,
	}
}

// CreateAccount registers a new account. It validates the email shape and
// password strength, checks uniqueness, hashes the password with argon2id,
// and persists the credential row plus a fresh conversation document.
func (s *provider) CreateAccount(ctx context.Context, input RegisterInput) (*Account, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	if !emailPattern.MatchString(email) {
		return nil, NewProviderError(CodeInvalidEmail, nil)
	}
	if len(input.Password) < minPasswordLen {
		return nil, NewProviderError(CodeWeakPassword, nil)
	}

	// Check if email is already taken before doing expensive hashing.
	exists, err := s.repo.EmailExists(ctx, email)
	if err != nil {
		return nil, NewProviderError(CodeNetworkFailure, fmt.Errorf("checking email: %w", err))
	}
	if exists {
		return nil, NewProviderError(CodeEmailInUse, nil)
	}

	// Hash the password with argon2id (memory-hard, GPU-resistant).
	hash, err := hashPassword(input.Password)
	if err != nil {
		return nil, NewProviderError(CodeNetworkFailure, fmt.Errorf("hashing password: %w", err))
	}

	acct := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		IsDisabled:   false,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.CreateAccount(ctx, acct); err != nil {
		return nil, NewProviderError(CodeNetworkFailure, fmt.Errorf("creating account: %w", err))
	}

	// Bootstrap the conversation document immediately so the quota counter
	// has a row to increment from the very first turn.
	now := time.Now().UTC()
	doc := &AccountDocument{
		AccountID:         acct.ID,
		Email:             acct.Email,
		ConversationCount: 0,
		Premium:           false,
		CreatedAt:         now,
		LastLogin:         &now,
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		// The credential row exists; the document will be recreated on the
		// next sign-in by EnsureDocument.
		slog.Warn("failed to create account document",
			slog.String("account_id", acct.ID),
			slog.Any("error", err),
		)
	}

	slog.Info("account registered",
		slog.String("account_id", acct.ID),
		slog.String("email", acct.Email),
	)

	return acct, nil
}

// SignIn authenticates an account by email and password. On success it
// creates a new session in Redis and returns the session token for the
// cookie.
func (s *provider) SignIn(ctx context.Context, input LoginInput) (string, *Account, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	if !emailPattern.MatchString(email) {
		return "", nil, NewProviderError(CodeInvalidEmail, nil)
	}

	acct, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return "", nil, NewProviderError(CodeUserNotFound, nil)
		}
		return "", nil, NewProviderError(CodeNetworkFailure, fmt.Errorf("finding account: %w", err))
	}

	if acct.IsDisabled {
		return "", nil, NewProviderError(CodeUserDisabled, nil)
	}

	// Verify the password against the stored argon2id hash.
	if !verifyPassword(input.Password, acct.PasswordHash) {
		return "", nil, NewProviderError(CodeWrongPassword, nil)
	}

	token, err := s.createSession(ctx, acct)
	if err != nil {
		return "", nil, NewProviderError(CodeNetworkFailure, fmt.Errorf("creating session: %w", err))
	}

	slog.Info("account signed in",
		slog.String("account_id", acct.ID),
		slog.String("email", acct.Email),
	)

	return token, acct, nil
}

// ValidateSession looks up a session token in Redis and returns the session
// data if it exists and hasn't expired.
func (s *provider) ValidateSession(ctx context.Context, token string) (*Session, error) {
	key := sessionKeyPrefix + token

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, NewProviderError(CodeRequiresRecentLogin, nil)
	}
	if err != nil {
		return nil, NewProviderError(CodeNetworkFailure, fmt.Errorf("reading session from Redis: %w", err))
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, NewProviderError(CodeNetworkFailure, fmt.Errorf("unmarshaling session: %w", err))
	}

	return &session, nil
}

// SignOut removes a session from Redis, effectively logging the user out.
func (s *provider) SignOut(ctx context.Context, token string) error {
	key := sessionKeyPrefix + token

	if err := s.redis.Del(ctx, key).Err(); err != nil {
		return NewProviderError(CodeNetworkFailure, fmt.Errorf("deleting session from Redis: %w", err))
	}

	return nil
}

// createSession generates a random session token, stores the session data in
// Redis with the configured TTL, and returns the token.
func (s *provider) createSession(ctx context.Context, acct *Account) (string, error) {
	token, err := generateSessionToken()
	if err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}

	session := Session{
		AccountID: acct.ID,
		Email:     acct.Email,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("marshaling session: %w", err)
	}

	key := sessionKeyPrefix + token
	if err := s.redis.Set(ctx, key, data, s.sessionTTL).Err(); err != nil {
		return "", fmt.Errorf("storing session in Redis: %w", err)
	}

	return token, nil
}

// --- Password Hashing (argon2id) ---

// hashPassword creates an argon2id hash of the given password. The output
// format is: $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
// This format is compatible with most argon2 libraries and allows self-
// contained verification without separate salt storage.
func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	// Encode to the standard PHC string format.
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads, b64Salt, b64Hash)

	return encoded, nil
}

// verifyPassword checks a plaintext password against an argon2id hash string.
// Returns true if the password matches.
func verifyPassword(password, encodedHash string) bool {
	// Parse the encoded hash to extract parameters, salt, and hash.
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 {
		return false
	}

	var memory uint32
	var iterations uint32
	var parallelism uint8
	_, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism)
	if err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}

	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	// Compute the hash of the provided password with the same parameters.
	computedHash := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expectedHash)))

	// Constant-time comparison to prevent timing attacks.
	return subtle.ConstantTimeCompare(expectedHash, computedHash) == 1
}

// --- Helpers ---

// generateSessionToken creates a cryptographically random hex-encoded token.
func generateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// isNotFound checks whether an error is an apperror.NotFound.
func isNotFound(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr) && appErr.Code == 404
}
