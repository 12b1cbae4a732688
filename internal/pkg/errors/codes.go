package xerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the closed set of error discriminators surfaced to clients.
// The string values are part of the public contract and must not change.
type Code string

const (
	CodeUnauthorized             Code = "unauthorized"
	CodeNoActiveSubscription     Code = "no_active_subscription"
	CodePlanNotFound             Code = "plan_not_found"
	CodeProjectsLimitExceeded    Code = "projects_limit_exceeded"
	CodeCopiesLimitExceeded      Code = "copies_limit_exceeded"
	CodeInsufficientCredits      Code = "insufficient_credits"
	CodeInvalidAmount            Code = "invalid_amount"
	CodeInvalidBillingCycle      Code = "invalid_billing_cycle"
	CodeOfferNotMapped           Code = "OfferNotMapped"
	CodeWebhookPlanNotFound      Code = "PlanNotFound"
	CodeUserNotFound             Code = "UserNotFound"
	CodeWorkspaceNotFound        Code = "WorkspaceNotFound"
	CodeIntegrationNotConfigured Code = "integration_not_configured"
	CodeInvalidSignature         Code = "invalid_signature"
	CodeInvalidPayload           Code = "invalid_payload"
	CodeDuplicateInFlight        Code = "duplicate_in_flight"
	CodeUnknown                  Code = "unknown"
)

// AllCodes lists every code; used by tests to keep the switches below exhaustive.
var AllCodes = []Code{
	CodeUnauthorized,
	CodeNoActiveSubscription,
	CodePlanNotFound,
	CodeProjectsLimitExceeded,
	CodeCopiesLimitExceeded,
	CodeInsufficientCredits,
	CodeInvalidAmount,
	CodeInvalidBillingCycle,
	CodeOfferNotMapped,
	CodeWebhookPlanNotFound,
	CodeUserNotFound,
	CodeWorkspaceNotFound,
	CodeIntegrationNotConfigured,
	CodeInvalidSignature,
	CodeInvalidPayload,
	CodeDuplicateInFlight,
	CodeUnknown,
}

// HTTPStatus maps a code to the status used by the RPC endpoints.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthorized, CodeInvalidSignature:
		return http.StatusForbidden
	case CodeNoActiveSubscription, CodePlanNotFound, CodeWebhookPlanNotFound,
		CodeUserNotFound, CodeWorkspaceNotFound, CodeOfferNotMapped:
		return http.StatusNotFound
	case CodeProjectsLimitExceeded, CodeCopiesLimitExceeded:
		return http.StatusConflict
	case CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case CodeInvalidAmount, CodeInvalidBillingCycle, CodeInvalidPayload:
		return http.StatusBadRequest
	case CodeIntegrationNotConfigured:
		return http.StatusServiceUnavailable
	case CodeDuplicateInFlight:
		return http.StatusConflict
	case CodeUnknown:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// Message is the user-facing (pt-BR) text for a code.
func (c Code) Message() string {
	switch c {
	case CodeUnauthorized:
		return "Você não tem permissão para realizar esta ação"
	case CodeNoActiveSubscription:
		return "Nenhuma assinatura ativa encontrada"
	case CodePlanNotFound, CodeWebhookPlanNotFound:
		return "Plano não encontrado"
	case CodeProjectsLimitExceeded:
		return "Você possui mais projetos do que o novo plano permite"
	case CodeCopiesLimitExceeded:
		return "Você possui mais copies do que o novo plano permite"
	case CodeInsufficientCredits:
		return "Créditos insuficientes"
	case CodeInvalidAmount:
		return "Valor inválido"
	case CodeInvalidBillingCycle:
		return "Ciclo de cobrança inválido"
	case CodeOfferNotMapped:
		return "Oferta não mapeada para nenhum plano"
	case CodeUserNotFound:
		return "Usuário não encontrado"
	case CodeWorkspaceNotFound:
		return "Workspace não encontrado"
	case CodeIntegrationNotConfigured:
		return "Integração não configurada ou inativa"
	case CodeInvalidSignature:
		return "Token de validação inválido"
	case CodeInvalidPayload:
		return "Payload inválido"
	case CodeDuplicateInFlight:
		return "Evento já está sendo processado"
	case CodeUnknown:
		return "Erro desconhecido"
	}
	return "Erro desconhecido"
}

// AppError is an error tagged with a public code and optional context that
// is safe to return to clients.
type AppError struct {
	Code    Code
	Err     error
	Details map[string]interface{}
}

// New creates an AppError. err may be nil.
func New(code Code, err error) *AppError {
	return &AppError{Code: code, Err: err}
}

// Newf creates an AppError with a formatted internal cause.
func Newf(code Code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Err: fmt.Errorf(format, args...)}
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// With attaches a context value that is rendered next to the code.
func (e *AppError) With(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the public code from err, CodeUnknown when err carries none.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}
