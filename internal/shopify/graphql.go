package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/storesync/storesync/internal/utils"
)

// graphQLRequest is the wire shape of a GraphQL call
type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data       json.RawMessage    `json:"data"`
	Errors     []graphQLError     `json:"errors,omitempty"`
	Extensions *graphQLExtensions `json:"extensions,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLExtensions struct {
	Cost *graphQLCost `json:"cost,omitempty"`
}

type graphQLCost struct {
	RequestedQueryCost int             `json:"requestedQueryCost"`
	ActualQueryCost    int             `json:"actualQueryCost"`
	ThrottleStatus     *throttleStatus `json:"throttleStatus,omitempty"`
}

type throttleStatus struct {
	MaximumAvailable   float64 `json:"maximumAvailable"`
	CurrentlyAvailable float64 `json:"currentlyAvailable"`
	RestoreRate        float64 `json:"restoreRate"`
}

// GraphQL executes a query document through the GraphQL limiter and
// decodes the data payload into out. The same throttling retry
// contract as Rest applies; additionally, when the reported remaining
// cost budget runs low the client sleeps briefly before returning, a
// preventive throttle distinct from the reactive 429 retry.
func (c *Client) GraphQL(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	return c.graphqlWithRetry(ctx, query, variables, out, c.cfg.MaxRetries)
}

func (c *Client) graphqlWithRetry(ctx context.Context, query string, variables map[string]interface{}, out interface{}, retries int) error {
	var envelope graphQLResponse

	err := c.graphql.schedule(ctx, func() error {
		_, err := c.doREST(ctx, http.MethodPost, "/graphql.json", graphQLRequest{
			Query:     query,
			Variables: variables,
		}, &envelope)
		return err
	})

	var throttled *throttledError
	if errors.As(err, &throttled) {
		if retries > 0 {
			c.logger.Debug().
				Dur("retry_after", throttled.retryAfter).
				Int("retries_left", retries).
				Msg("graphql throttled, backing off")
			if serr := sleepCtx(ctx, throttled.retryAfter); serr != nil {
				return serr
			}
			return c.graphqlWithRetry(ctx, query, variables, out, retries-1)
		}
		return &utils.ThrottleError{
			Path:       "/graphql.json",
			Attempts:   c.cfg.MaxRetries + 1,
			RetryAfter: throttled.retryAfter,
		}
	}
	if err != nil {
		return err
	}

	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		return fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode graphql data: %w", err)
		}
	}

	// Preventive throttle: slow down before the cost bucket empties.
	if ext := envelope.Extensions; ext != nil && ext.Cost != nil && ext.Cost.ThrottleStatus != nil {
		if ext.Cost.ThrottleStatus.CurrentlyAvailable < float64(c.cfg.CostThreshold) {
			c.logger.Debug().
				Float64("currently_available", ext.Cost.ThrottleStatus.CurrentlyAvailable).
				Msg("graphql cost budget low, pausing")
			if serr := sleepCtx(ctx, time.Second); serr != nil {
				return serr
			}
		}
	}

	return nil
}
