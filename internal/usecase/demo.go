// Package usecase orchestrates the two-agent email demo: session
// initialization and webhook-driven conversation processing.
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"prospector-agent/internal/domain"
	"prospector-agent/internal/repository"
	"prospector-agent/internal/scoring"
)

// WebhookPath is the inbound webhook route registered with the email provider.
const WebhookPath = "/webhooks/mailslurp"

const inboxListSize = 20

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ContentGenerator produces natural-language email bodies and screens
// arbitrary inbound text.
type ContentGenerator interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
	Moderate(ctx context.Context, input string) (bool, error)
}

// EmailGateway is the email-provider surface the demo depends on. Every call
// is a remote RPC that may fail transiently.
type EmailGateway interface {
	CreateInbox(ctx context.Context, name string) (inboxID, emailAddress string, err error)
	SendEmail(ctx context.Context, inboxID, to, subject, body string) (string, error)
	ReplyToEmail(ctx context.Context, emailID, body string) (string, error)
	ListEmails(ctx context.Context, inboxID string, size int) ([]domain.EmailMessage, error)
	GetEmail(ctx context.Context, emailID string) (domain.EmailMessage, error)
	RegisterWebhook(ctx context.Context, inboxID, url string) error
}

// Config carries the demo's tunables.
type Config struct {
	ParamPrefix   string
	PublicBaseURL string
	MaxExchanges  int
	Scoring       scoring.Config
}

// DemoService owns the demo lifecycle: it initializes sessions and processes
// inbound webhook events.
type DemoService struct {
	params  ParamGetter
	llm     ContentGenerator
	gateway EmailGateway
	store   repository.SessionStore
	cfg     Config
	logger  *slog.Logger

	// sessionMu serializes cap-check through exchange-increment so two
	// near-simultaneous deliveries cannot both pass the cap check. The
	// conditional store update is the durable backstop.
	sessionMu sync.Mutex

	cacheMu       sync.RWMutex
	cacheLoaded   bool
	sellerPersona string
	buyerPersona  string
	criteria      scoring.Criteria
	profile       scoring.Profile
	model         string
}

// InitializeOutput is the pair of addresses shown to the demo UI.
type InitializeOutput struct {
	SellerEmail string
	BuyerEmail  string
}

// MessagesOutput is the merged conversation view for the demo UI.
type MessagesOutput struct {
	Initialized bool
	Seller      string
	Buyer       string
	Messages    []domain.EmailMessage
}

func NewDemoService(p ParamGetter, llm ContentGenerator, gw EmailGateway, store repository.SessionStore, cfg Config, logger *slog.Logger) (*DemoService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: content generator must not be nil")
	}
	if gw == nil {
		return nil, errors.New("usecase: email gateway must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if cfg.ParamPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		return nil, errors.New("usecase: public base url must not be empty")
	}
	if cfg.MaxExchanges <= 0 {
		return nil, errors.New("usecase: max exchanges must be positive")
	}
	if len(cfg.Scoring.Weights) == 0 {
		cfg.Scoring = scoring.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DemoService{
		params:  p,
		llm:     llm,
		gateway: gw,
		store:   store,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// InitializeDemo creates a fresh inbox pair, stores a new session (replacing
// any prior one), registers webhooks and fires the opening message. If either
// inbox creation fails the whole call fails and no session is recorded.
func (s *DemoService) InitializeDemo(ctx context.Context) (InitializeOutput, error) {
	if err := s.ensurePersonas(ctx); err != nil {
		return InitializeOutput{}, newError(ErrorInternal, "ssm_load_error", err)
	}

	// Time-based suffix keeps inbox names unique so a new run never inherits
	// historical mail from a previous one.
	suffix := time.Now().Unix()
	sellerID, sellerEmail, err := s.gateway.CreateInbox(ctx, fmt.Sprintf("seller-%d", suffix))
	if err != nil {
		return InitializeOutput{}, newError(ErrorUpstream, "seller_inbox_creation_failed", err)
	}
	buyerID, buyerEmail, err := s.gateway.CreateInbox(ctx, fmt.Sprintf("buyer-%d", suffix))
	if err != nil {
		return InitializeOutput{}, newError(ErrorUpstream, "buyer_inbox_creation_failed", err)
	}

	sess := domain.Session{
		SellerInboxID: sellerID,
		SellerEmail:   sellerEmail,
		BuyerInboxID:  buyerID,
		BuyerEmail:    buyerEmail,
		CreatedAt:     time.Now().UTC(),
		Status:        domain.SessionActive,
	}
	if err := s.store.ReplaceSession(ctx, sess); err != nil {
		return InitializeOutput{}, newError(ErrorInternal, "session_store_error", err)
	}

	// Registration failure degrades to polling; the demo can still show
	// messages even if inbound-triggered replies never fire.
	hookURL := strings.TrimRight(s.cfg.PublicBaseURL, "/") + WebhookPath
	for _, inboxID := range []string{sellerID, buyerID} {
		if err := s.gateway.RegisterWebhook(ctx, inboxID, hookURL); err != nil {
			s.logger.Warn("webhook registration failed, continuing in degraded mode",
				"inbox_id", inboxID, "url", hookURL, "err", err)
		}
	}

	opening, err := s.llm.Chat(ctx, s.model, buildSellerOpeningMessages(s.sellerPersona))
	if err != nil {
		return InitializeOutput{}, newError(ErrorUpstream, "generation_error", err)
	}
	if _, err := s.gateway.SendEmail(ctx, sellerID, buyerEmail, openingSubject, opening); err != nil {
		return InitializeOutput{}, newError(ErrorUpstream, "send_error", err)
	}

	s.logger.Info("demo initialized", "seller", sellerEmail, "buyer", buyerEmail)
	return InitializeOutput{SellerEmail: sellerEmail, BuyerEmail: buyerEmail}, nil
}

// ProcessEvent handles one inbound webhook delivery. The HTTP handler has
// already acknowledged the delivery; nothing here propagates back to the
// provider. Returns the recorded outcome.
func (s *DemoService) ProcessEvent(ctx context.Context, evt domain.InboundEmailEvent) string {
	log := s.logger.With("event_id", evt.EventID, "from", evt.From, "subject", evt.Subject)

	if strings.TrimSpace(evt.EventID) == "" {
		log.Warn("dropping event without identifier")
		return domain.OutcomeError
	}

	// Dedup mark and first-sight check are a single atomic write: a second
	// concurrent delivery of the same identifier cannot pass.
	if err := s.store.MarkEventProcessed(ctx, evt.EventID); err != nil {
		if errors.Is(err, repository.ErrDuplicateEvent) {
			log.Info("duplicate delivery absorbed")
			return s.record(ctx, evt, domain.RoleUnknown, domain.OutcomeDuplicate, "")
		}
		log.Error("recording processed event failed", "err", err)
		return s.record(ctx, evt, domain.RoleUnknown, domain.OutcomeError, err.Error())
	}

	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	sess, err := s.store.GetActiveSession(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrSessionMissing) {
			log.Warn("no active session for event")
			return s.record(ctx, evt, domain.RoleUnknown, domain.OutcomeNoSession, "")
		}
		log.Error("loading session failed", "err", err)
		return s.record(ctx, evt, domain.RoleUnknown, domain.OutcomeError, err.Error())
	}

	// Low-water mark against provider replay of pre-session history.
	if evt.CreatedAt.Before(sess.CreatedAt) {
		log.Info("stale event predates session", "event_at", evt.CreatedAt, "session_at", sess.CreatedAt)
		return s.record(ctx, evt, domain.RoleUnknown, domain.OutcomeStale, "")
	}

	role := sess.RoleFor(evt.InboxID)
	if role == domain.RoleUnknown {
		log.Warn("event addressed to unknown inbox", "inbox_id", evt.InboxID)
		return s.record(ctx, evt, role, domain.OutcomeUnknownRecipient, evt.InboxID)
	}

	if sess.Exchanges >= s.cfg.MaxExchanges {
		log.Info("session capped, conversation complete", "exchanges", sess.Exchanges)
		return s.record(ctx, evt, role, domain.OutcomeCapped, "")
	}

	body := evt.Body
	if strings.TrimSpace(body) == "" && evt.EmailID != "" {
		full, err := s.gateway.GetEmail(ctx, evt.EmailID)
		if err != nil {
			log.Warn("fetching full message body failed", "email_id", evt.EmailID, "err", err)
		} else {
			body = full.Body
		}
	}
	cleaned := StripQuotedHistory(body)

	if err := s.ensurePersonas(ctx); err != nil {
		log.Error("loading personas failed", "err", err)
		return s.record(ctx, evt, role, domain.OutcomeError, err.Error())
	}

	// The demo inboxes are publicly reachable; screen inbound text before it
	// is embedded in a prompt.
	flagged, err := s.llm.Moderate(ctx, cleaned)
	if err != nil {
		log.Error("moderation failed", "recipient", evt.From, "err", err)
		return s.record(ctx, evt, role, domain.OutcomeError, err.Error())
	}
	if flagged {
		log.Warn("inbound content flagged, dropping without reply")
		return s.record(ctx, evt, role, domain.OutcomeFlagged, "")
	}

	var messages []domain.ChatMessage
	detail := ""
	if role == domain.RoleSeller {
		res := scoring.Score(s.cfg.Scoring, s.criteria, s.profile, cleaned)
		messages = buildSellerReplyMessages(s.sellerPersona, evt, cleaned, res)
		detail = fmt.Sprintf("score=%d recommendation=%s", res.OverallScore, res.Recommendation)
	} else {
		messages = buildBuyerReplyMessages(s.buyerPersona, evt, cleaned)
	}

	reply, err := s.llm.Chat(ctx, s.model, messages)
	if err != nil {
		// The provider already got its 200; this delivery will not be
		// retried. Surface through logs and the webhook record.
		log.Error("content generation failed", "recipient", evt.From, "err", err)
		return s.record(ctx, evt, role, domain.OutcomeError, err.Error())
	}

	if _, err := s.gateway.ReplyToEmail(ctx, evt.EmailID, reply); err != nil {
		log.Error("sending reply failed", "recipient", evt.From, "err", err)
		return s.record(ctx, evt, role, domain.OutcomeError, err.Error())
	}

	// Only a successful send advances state; a failed attempt above leaves
	// the session eligible for the next event.
	count, err := s.store.IncrementExchange(ctx, s.cfg.MaxExchanges)
	if err != nil {
		if errors.Is(err, repository.ErrCapExceeded) {
			log.Warn("exchange cap reached concurrently after reply")
			return s.record(ctx, evt, role, domain.OutcomeReplied, "cap reached after send")
		}
		log.Error("advancing exchange counter failed", "err", err)
		return s.record(ctx, evt, role, domain.OutcomeError, err.Error())
	}

	log.Info("reply sent", "role", string(role), "exchanges", count, "detail", detail)
	return s.record(ctx, evt, role, domain.OutcomeReplied, detail)
}

// Messages returns the merged conversation for the demo UI. An uninitialized
// demo is not an error.
func (s *DemoService) Messages(ctx context.Context) (MessagesOutput, error) {
	sess, err := s.store.GetActiveSession(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrSessionMissing) {
			return MessagesOutput{Initialized: false, Messages: []domain.EmailMessage{}}, nil
		}
		return MessagesOutput{}, newError(ErrorInternal, "session_load_error", err)
	}

	sellerMsgs, err := s.gateway.ListEmails(ctx, sess.SellerInboxID, inboxListSize)
	if err != nil {
		return MessagesOutput{}, newError(ErrorUpstream, "list_seller_inbox_error", err)
	}
	buyerMsgs, err := s.gateway.ListEmails(ctx, sess.BuyerInboxID, inboxListSize)
	if err != nil {
		return MessagesOutput{}, newError(ErrorUpstream, "list_buyer_inbox_error", err)
	}

	merged := append(sellerMsgs, buyerMsgs...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})

	return MessagesOutput{
		Initialized: true,
		Seller:      sess.SellerEmail,
		Buyer:       sess.BuyerEmail,
		Messages:    merged,
	}, nil
}

// WebhookLog returns recent webhook-processing records for operator
// visibility.
func (s *DemoService) WebhookLog(ctx context.Context, limit int) ([]domain.WebhookRecord, error) {
	recs, err := s.store.ListWebhooks(ctx, limit)
	if err != nil {
		return nil, newError(ErrorInternal, "webhook_log_error", err)
	}
	return recs, nil
}

func (s *DemoService) record(ctx context.Context, evt domain.InboundEmailEvent, role domain.Role, outcome, detail string) string {
	rec := domain.WebhookRecord{
		ID:        uuid.NewString(),
		EventID:   evt.EventID,
		Role:      string(role),
		From:      evt.From,
		Subject:   evt.Subject,
		Outcome:   outcome,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.RecordWebhook(ctx, rec); err != nil {
		s.logger.Error("recording webhook outcome failed", "event_id", evt.EventID, "outcome", outcome, "err", err)
	}
	return outcome
}

// ensurePersonas loads the personas, criteria and model name from SSM on the
// first call; a load failure is retried on the next request.
func (s *DemoService) ensurePersonas(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	prefix := s.cfg.ParamPrefix

	sellerPersona, err := s.params.GetParameter(ctx, prefix+"/seller_persona")
	if err != nil {
		return fmt.Errorf("usecase: load seller persona: %w", err)
	}
	buyerPersona, err := s.params.GetParameter(ctx, prefix+"/buyer_persona")
	if err != nil {
		return fmt.Errorf("usecase: load buyer persona: %w", err)
	}
	criteriaRaw, err := s.params.GetParameter(ctx, prefix+"/seller_criteria")
	if err != nil {
		return fmt.Errorf("usecase: load seller criteria: %w", err)
	}
	profileRaw, err := s.params.GetParameter(ctx, prefix+"/buyer_profile")
	if err != nil {
		return fmt.Errorf("usecase: load buyer profile: %w", err)
	}
	model, err := s.params.GetParameter(ctx, prefix+"/config/openai_model")
	if err != nil {
		return fmt.Errorf("usecase: load openai model: %w", err)
	}

	var criteria scoring.Criteria
	if err := json.Unmarshal([]byte(criteriaRaw), &criteria); err != nil {
		return fmt.Errorf("usecase: parse seller criteria: %w", err)
	}
	var profile scoring.Profile
	if err := json.Unmarshal([]byte(profileRaw), &profile); err != nil {
		return fmt.Errorf("usecase: parse buyer profile: %w", err)
	}

	s.sellerPersona = sellerPersona
	s.buyerPersona = buyerPersona
	s.criteria = criteria
	s.profile = profile
	s.model = model
	s.cacheLoaded = true
	return nil
}
