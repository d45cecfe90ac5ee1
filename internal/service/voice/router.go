package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
	"github.com/seu-repo/voice-gateway/internal/observability/telemetry"
	"github.com/seu-repo/voice-gateway/internal/ports"
)

const (
	PermissionDeniedText = "Sorry, you don't have permission to do that."
	GoodbyeText          = "Goodbye!"
)

// Handler answers one intent. It calls at most one collaborator.
type Handler func(ctx context.Context, principal *domain.Principal, intent *domain.IntentResult) (*domain.ActionResponse, error)

// Router dispatches classified intents to their handlers.
type Router struct {
	registry *Registry
	users    ports.UserStore
	search   ports.SearchService
	handlers map[string]Handler
	log      *zap.Logger
}

func NewRouter(registry *Registry, users ports.UserStore, search ports.SearchService, log *zap.Logger) *Router {
	r := &Router{
		registry: registry,
		users:    users,
		search:   search,
		log:      log.With(zap.String("component", "router")),
	}
	r.handlers = map[string]Handler{
		IntentHelp:          r.handleHelp,
		IntentGreeting:      r.handleGreeting,
		IntentGetProfile:    r.handleGetProfile,
		IntentUpdateProfile: r.handleUpdateProfile,
		IntentSearchContent: r.handleSearch,
		IntentEndSession:    r.handleEndSession,
	}
	return r
}

// Handle replaces or adds the handler for an intent.
func (r *Router) Handle(intent string, h Handler) {
	r.handlers[intent] = h
}

// Route answers intent on behalf of principal. Missing permissions and
// unknown intents produce a spoken reply, not an error; only collaborator
// failures return a *domain.RoutingError.
func (r *Router) Route(ctx context.Context, principal *domain.Principal, intent *domain.IntentResult) (*domain.ActionResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "voice.route")
	span.SetAttributes(attribute.String("intent", intent.Intent))
	start := time.Now()

	resp, err := r.route(ctx, principal, intent)
	finishStage(StageRoute, start, span, err)
	return resp, err
}

func (r *Router) route(ctx context.Context, principal *domain.Principal, intent *domain.IntentResult) (*domain.ActionResponse, error) {
	if intent.NeedsClarification {
		question := intent.ClarificationQuestion
		if question == "" {
			question = FallbackQuestion
		}
		return &domain.ActionResponse{Text: question}, nil
	}

	name := intent.Intent
	spec, known := r.registry.Lookup(name)
	handler, ok := r.handlers[name]
	if !known || !ok {
		r.log.Warn("Unknown intent, answering with help",
			zap.String("intent", name),
			zap.String("error_kind", string(domain.KindUnknownIntent)),
		)
		telemetry.StageErrors.WithLabelValues(StageRoute, string(domain.KindUnknownIntent)).Inc()
		return r.handleHelp(ctx, principal, intent)
	}

	if !principal.HasScope(spec.RequiredScope) {
		r.log.Info("Intent refused",
			zap.String("intent", name),
			zap.String("user_id", principal.UserID),
			zap.String("required_scope", spec.RequiredScope),
			zap.String("error_kind", string(domain.KindPermissionDenied)),
		)
		telemetry.StageErrors.WithLabelValues(StageRoute, string(domain.KindPermissionDenied)).Inc()
		return &domain.ActionResponse{
			Text:       PermissionDeniedText,
			SideEffect: &domain.SideEffect{Action: "permission_denied", Detail: name},
		}, nil
	}

	return handler(ctx, principal, intent)
}

func upstream(err error) error {
	return &domain.RoutingError{Kind: domain.KindUpstreamUnavailable, Err: err}
}

func (r *Router) handleHelp(_ context.Context, _ *domain.Principal, _ *domain.IntentResult) (*domain.ActionResponse, error) {
	var examples []string
	for _, spec := range r.registry.Intents {
		if spec.Name == IntentHelp || len(spec.Examples) == 0 {
			continue
		}
		examples = append(examples, fmt.Sprintf("%q", spec.Examples[0]))
	}
	text := "I can help with your profile, searching content and more."
	if len(examples) > 0 {
		text = "You can say things like " + joinWithOr(examples) + "."
	}
	return &domain.ActionResponse{Text: text}, nil
}

func (r *Router) handleGreeting(ctx context.Context, principal *domain.Principal, _ *domain.IntentResult) (*domain.ActionResponse, error) {
	profile, err := r.users.GetProfile(ctx, principal.UserID)
	if err != nil || profile.DisplayName == "" {
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			r.log.Warn("Profile lookup failed during greeting", zap.String("user_id", principal.UserID), zap.Error(err))
		}
		return &domain.ActionResponse{Text: "Hello! How can I help you today?"}, nil
	}
	return &domain.ActionResponse{Text: fmt.Sprintf("Hello, %s! How can I help you today?", profile.DisplayName)}, nil
}

func (r *Router) handleGetProfile(ctx context.Context, principal *domain.Principal, _ *domain.IntentResult) (*domain.ActionResponse, error) {
	profile, err := r.users.GetProfile(ctx, principal.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.ActionResponse{Text: fmt.Sprintf("I couldn't find a profile for user %s.", principal.UserID)}, nil
	}
	if err != nil {
		return nil, upstream(err)
	}

	parts := []string{"user ID " + profile.UserID}
	if profile.DisplayName != "" {
		parts = append(parts, "name "+profile.DisplayName)
	}
	if profile.Language != "" {
		parts = append(parts, "language "+profile.Language)
	}
	if profile.VoiceProfile != "" {
		parts = append(parts, "voice "+profile.VoiceProfile)
	}
	return &domain.ActionResponse{Text: "Your profile: " + strings.Join(parts, ", ") + "."}, nil
}

var profileFieldAliases = map[string]string{
	"display name":  "display_name",
	"display_name":  "display_name",
	"name":          "display_name",
	"language":      "language",
	"voice":         "voice_profile",
	"voice_profile": "voice_profile",
}

var profileFieldLabels = map[string]string{
	"display_name":  "display name",
	"language":      "language",
	"voice_profile": "voice",
}

func (r *Router) handleUpdateProfile(ctx context.Context, principal *domain.Principal, intent *domain.IntentResult) (*domain.ActionResponse, error) {
	rawField := strings.ToLower(strings.TrimSpace(intent.Entities["field"]))
	value := strings.TrimSpace(intent.Entities["value"])
	if rawField == "" || value == "" {
		return &domain.ActionResponse{Text: "Which part of your profile would you like to change, and to what?"}, nil
	}

	field, ok := profileFieldAliases[rawField]
	if !ok {
		return &domain.ActionResponse{Text: "I can only change your display name, language or voice."}, nil
	}

	if _, err := r.users.UpdateProfile(ctx, principal.UserID, map[string]string{field: value}); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.ActionResponse{Text: fmt.Sprintf("I couldn't find a profile for user %s.", principal.UserID)}, nil
		}
		return nil, upstream(err)
	}

	return &domain.ActionResponse{
		Text:       fmt.Sprintf("Done. Your %s is now %s.", profileFieldLabels[field], value),
		SideEffect: &domain.SideEffect{Action: "profile_updated", Detail: field},
	}, nil
}

func (r *Router) handleSearch(ctx context.Context, _ *domain.Principal, intent *domain.IntentResult) (*domain.ActionResponse, error) {
	query := strings.TrimSpace(intent.Entities["query"])
	if query == "" {
		return &domain.ActionResponse{Text: "What would you like me to search for?"}, nil
	}

	results, err := r.search.Search(ctx, query)
	if err != nil {
		return nil, upstream(err)
	}
	if len(results) == 0 {
		return &domain.ActionResponse{Text: fmt.Sprintf("I couldn't find anything for %q.", query)}, nil
	}

	top := results[0]
	text := fmt.Sprintf("I found %d result", len(results))
	if len(results) != 1 {
		text += "s"
	}
	text += fmt.Sprintf(" for %q. The top one is %s", query, top.Title)
	if top.Snippet != "" {
		text += ": " + top.Snippet
	}
	if !strings.HasSuffix(text, ".") {
		text += "."
	}
	return &domain.ActionResponse{
		Text:       text,
		SideEffect: &domain.SideEffect{Action: "search", Detail: query},
	}, nil
}

func (r *Router) handleEndSession(_ context.Context, _ *domain.Principal, _ *domain.IntentResult) (*domain.ActionResponse, error) {
	return &domain.ActionResponse{
		Text:       GoodbyeText,
		SideEffect: &domain.SideEffect{Action: domain.SideEffectSessionClose},
	}, nil
}

func joinWithOr(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " or " + items[len(items)-1]
}
