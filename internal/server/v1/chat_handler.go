package v1

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nulzo/model-gateway/internal/credential"
	"github.com/nulzo/model-gateway/internal/gateway"
	"github.com/nulzo/model-gateway/internal/server/middleware"
	"github.com/nulzo/model-gateway/pkg/api"
)

type ChatHandler struct {
	service *gateway.Service
}

func NewChatHandler(service *gateway.Service) *ChatHandler {
	return &ChatHandler{service: service}
}

func (h *ChatHandler) CreateCompletion(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		_ = c.Error(api.ValidationError("Invalid body or missing model"))
		return
	}

	outcome, err := h.service.Chat(c.Request.Context(), raw, middleware.OrgID(c), byokFromHeaders(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	if outcome.Stream != nil {
		h.writeStream(c, outcome)
		return
	}
	c.JSON(outcome.FinalStatus, outcome.Response)
}

// byokFromHeaders picks up a caller-supplied upstream credential. Only used
// when the body asks for passthrough billing.
func byokFromHeaders(c *gin.Context) *credential.Credential {
	key := c.GetHeader("X-Provider-Api-Key")
	if key == "" {
		return nil
	}
	return &credential.Credential{
		APIKey:    key,
		SecretKey: c.GetHeader("X-Provider-Secret-Key"),
		Region:    c.GetHeader("X-Provider-Region"),
		ProjectID: c.GetHeader("X-Provider-Project-Id"),
		Location:  c.GetHeader("X-Provider-Location"),
	}
}

func (h *ChatHandler) writeStream(c *gin.Context, outcome *gateway.GatewayOutcome) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		chunk, ok := <-outcome.Stream
		if !ok {
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			return false
		}

		if chunk.Err != nil {
			// mid-stream failures terminate the stream; status is already sent
			errChunk := api.ChatResponse{
				Object: "chat.completion.chunk",
				Choices: []api.Choice{{
					FinishReason: "error",
				}},
			}
			data, _ := json.Marshal(errChunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
			return false
		}

		data, err := json.Marshal(chunk.Response)
		if err != nil {
			return true
		}
		_, err = fmt.Fprintf(w, "data: %s\n\n", data)
		return err == nil
	})
}
