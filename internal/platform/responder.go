// Package platform is the HTTP side of the chat platform: interaction
// callbacks and follow-up message edits.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"FxAlert/internal/domain/models"
	domrepo "FxAlert/internal/domain/repository"
	xhttp "FxAlert/pkg/http"
)

// Callback types accepted by the interaction callback endpoint.
const (
	CallbackDeferredMessage = 5
)

// Responder implements InteractionResponder over the platform REST API.
type Responder struct {
	baseURL string
	client  *xhttp.Client
}

var _ domrepo.InteractionResponder = (*Responder)(nil)

// NewResponder builds a responder. Per-call deadlines come from ctx; timeout is a ceiling.
func NewResponder(baseURL, token string, timeout time.Duration) *Responder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := []xhttp.ClientOption{xhttp.WithTimeout(timeout)}
	if token != "" {
		opts = append(opts, xhttp.WithHeader("Authorization", "Bot "+token))
	}
	return &Responder{baseURL: baseURL, client: xhttp.NewClient(opts...)}
}

type callbackBody struct {
	Type int `json:"type"`
}

type editBody struct {
	Content string `json:"content"`
}

// Ack sends the deferred callback for in.
func (r *Responder) Ack(ctx context.Context, in models.InboundInteraction) error {
	endpoint := fmt.Sprintf("%s/interactions/%s/%s/callback", r.baseURL, url.PathEscape(in.ID), url.PathEscape(in.Token))
	return r.send(ctx, xhttp.MethodPost, endpoint, callbackBody{Type: CallbackDeferredMessage})
}

// EditFinalReply replaces the deferred placeholder message.
func (r *Responder) EditFinalReply(ctx context.Context, in models.InboundInteraction, content string) error {
	endpoint := fmt.Sprintf("%s/webhooks/%s/messages/@original", r.baseURL, url.PathEscape(in.Token))
	return r.send(ctx, xhttp.MethodPatch, endpoint, editBody{Content: content})
}

func (r *Responder) Classify(err error) models.ErrorClass {
	return Classify(err)
}

func (r *Responder) send(ctx context.Context, method, endpoint string, body interface{}) error {
	err := r.client.SendAndParse(ctx, &xhttp.RequestOptions{Method: method, URL: endpoint, Body: body}, nil)
	if err == nil {
		return nil
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		pe := &Error{Status: se.Code}
		if jerr := json.Unmarshal(se.Body, pe); jerr != nil {
			pe.Message = string(se.Body)
		}
		return pe
	}
	return err
}
