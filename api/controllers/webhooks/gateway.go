package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/agrimandi/agrimandi-backend/api/responses"
	pkgerrors "github.com/agrimandi/agrimandi-backend/pkg/errors"
	"github.com/agrimandi/agrimandi-backend/pkg/logger"
)

const gatewaySignatureHeader = "X-Gateway-Signature"

// maxWebhookBody bounds gateway callbacks at 1MB.
const maxWebhookBody = 1 << 20

type GatewayWebhookService interface {
	HandleCallback(ctx context.Context, body []byte, signature string) error
}

// GatewayWebhook verifies and applies payment gateway callbacks.
func GatewayWebhook(svc GatewayWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(gatewaySignatureHeader))
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "gateway signature missing"))
			return
		}

		if err := svc.HandleCallback(ctx, body, signature); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "accepted"})
	}
}
