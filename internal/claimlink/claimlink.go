// Package claimlink issues short-lived links that let a Telegram user
// claim their community member profile, with a QR code for the link.
package claimlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/jackmielke/agentdash/internal/store"
	"github.com/jackmielke/agentdash/internal/tools"
)

// DefaultTTL is how long a claim link stays valid.
const DefaultTTL = 24 * time.Hour

// qrSize is the QR code edge length in pixels.
const qrSize = 256

// Guidance returned when a precondition is not met.
const (
	NoRequesterMessage = "I can only issue a claim link to a member messaging from Telegram. Ask them to message me directly and request their claim link."
	NoProfileMessage   = "There is no community profile linked to your Telegram account yet. An organizer needs to add you before you can claim it."
	ClaimedMessage     = "Your profile has already been claimed. No new link is needed."
)

// Stores is the storage surface the issuer needs.
type Stores interface {
	store.MemberStore
	store.ClaimStore
	store.BlobStore
}

// Config configures an Issuer.
type Config struct {
	// LinkBaseURL is the dashboard URL the claim page lives under.
	LinkBaseURL string
	// BlobBaseURL is the public URL of this server, used to serve QR codes.
	BlobBaseURL string
	TTL         time.Duration
}

// Issuer creates claim tokens.
type Issuer struct {
	stores Stores
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewIssuer creates an Issuer.
func NewIssuer(stores Stores, cfg Config, logger *slog.Logger) *Issuer {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	cfg.LinkBaseURL = strings.TrimRight(cfg.LinkBaseURL, "/")
	cfg.BlobBaseURL = strings.TrimRight(cfg.BlobBaseURL, "/")
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{stores: stores, cfg: cfg, logger: logger, now: time.Now}
}

// Link is an issued claim link.
type Link struct {
	URL       string
	QRCodeURL string
	ExpiresAt time.Time
}

// Issue creates a claim token for member and stores its QR code. A QR
// code failure is logged and leaves QRCodeURL empty.
func (i *Issuer) Issue(ctx context.Context, member *store.Member) (*Link, error) {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	now := i.now()
	ct := &store.ClaimToken{
		Token:     token,
		TenantID:  member.TenantID,
		MemberID:  member.ID,
		ExpiresAt: now.Add(i.cfg.TTL),
		CreatedAt: now,
	}
	if err := i.stores.CreateClaimToken(ctx, ct); err != nil {
		return nil, fmt.Errorf("create claim token: %w", err)
	}

	link := &Link{
		URL:       fmt.Sprintf("%s/claim/%s", i.cfg.LinkBaseURL, token),
		ExpiresAt: ct.ExpiresAt,
	}

	png, err := qrcode.Encode(link.URL, qrcode.Medium, qrSize)
	if err != nil {
		i.logger.Warn("claim link QR encode failed", "tenant", member.TenantID, "error", err)
		return link, nil
	}
	key := "claim-qr-" + token + ".png"
	if err := i.stores.PutBlob(ctx, key, "image/png", png); err != nil {
		i.logger.Warn("claim link QR store failed", "tenant", member.TenantID, "error", err)
		return link, nil
	}
	link.QRCodeURL = fmt.Sprintf("%s/v1/blobs/%s", i.cfg.BlobBaseURL, key)
	return link, nil
}

// ToolHandler returns the issue_claim_link handler. The requester is
// taken from the invocation; the model cannot name another user.
func (i *Issuer) ToolHandler() func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, _ map[string]any) (string, error) {
		inv := tools.InvocationFromContext(ctx)
		if inv.TelegramUserID == 0 {
			return NoRequesterMessage, nil
		}

		member, err := i.stores.GetMemberByTelegramID(ctx, inv.TenantID, inv.TelegramUserID)
		if errors.Is(err, store.ErrNotFound) {
			return NoProfileMessage, nil
		}
		if err != nil {
			return "", fmt.Errorf("look up requester: %w", err)
		}
		if !member.ClaimedAt.IsZero() {
			return ClaimedMessage, nil
		}

		link, err := i.Issue(ctx, member)
		if err != nil {
			return "", err
		}

		i.logger.Info("claim link issued",
			"tenant", inv.TenantID, "member", member.ID, "expires", link.ExpiresAt)

		hours := int(i.cfg.TTL.Hours())
		msg := fmt.Sprintf("Here is the profile claim link for %s (valid for %d hours): %s",
			member.DisplayName, hours, link.URL)
		if link.QRCodeURL != "" {
			msg += "\nQR code: " + link.QRCodeURL
		}
		return msg, nil
	}
}

// ToolDefinition returns the JSON Schema parameters for issue_claim_link.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}
