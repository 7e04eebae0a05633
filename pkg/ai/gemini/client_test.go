package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	"google.golang.org/genai"

	"github.com/pdfbot/slack-pdf-backend/pkg/ai"
	"github.com/pdfbot/slack-pdf-backend/pkg/errors"
)

func TestNewClient_MissingKey(t *testing.T) {
	c := qt.New(t)

	_, err := NewClient(context.Background(), Options{})
	c.Check(err, qt.ErrorIs, errors.ErrInvalidArgument)
}

func TestClient_InferMetadata(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	var respText string
	var gotPath string
	var gotReq map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotReq = nil
		_ = json.Unmarshal(b, &gotReq)

		resp := map[string]any{
			"candidates": []any{
				map[string]any{
					"content": map[string]any{
						"role":  "model",
						"parts": []any{map[string]any{"text": respText}},
					},
					"finishReason": "STOP",
				},
			},
			"usageMetadata": map[string]any{
				"promptTokenCount":     1032,
				"candidatesTokenCount": 21,
				"totalTokenCount":      1053,
			},
			"modelVersion": "gemini-2.5-flash",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	c.Cleanup(srv.Close)

	client, err := NewClient(ctx, Options{APIKey: "test-key", BaseURL: srv.URL})
	c.Assert(err, qt.IsNil)
	c.Check(client.Name(), qt.Equals, ai.ProviderGemini)
	c.Check(client.NeedsRawContent(), qt.IsTrue)

	in := ai.Input{Filename: "minutes-2023-11.pdf", Content: []byte("%PDF-1.4 fake")}

	c.Run("ok", func(c *qt.C) {
		respText = `{"title":"Board Minutes","pub_date":"November 2023"}`

		res, err := client.InferMetadata(ctx, in)
		c.Assert(err, qt.IsNil)
		c.Check(res.Metadata, qt.DeepEquals, ai.Metadata{Title: "Board Minutes", PubDate: "November 2023"})
		c.Check(res.Usage, qt.DeepEquals, ai.Usage{InputTokens: 1032, OutputTokens: 21, TotalTokens: 1053})
		c.Check(res.Model, qt.Equals, "gemini-2.5-flash")

		c.Check(strings.HasSuffix(gotPath, "models/"+DefaultModel+":generateContent"), qt.IsTrue)
		contents, _ := gotReq["contents"].([]any)
		c.Assert(contents, qt.HasLen, 1)
		parts, _ := contents[0].(map[string]any)["parts"].([]any)
		c.Assert(parts, qt.HasLen, 2)
		inline, _ := parts[0].(map[string]any)["inlineData"].(map[string]any)
		c.Check(inline["mimeType"], qt.Equals, pdfMIMEType)
		c.Check(parts[1].(map[string]any)["text"], qt.Equals, "FILENAME: minutes-2023-11.pdf")
	})

	c.Run("nok - malformed output", func(c *qt.C) {
		respText = "Board Minutes, November 2023"

		_, err := client.InferMetadata(ctx, in)
		c.Check(err, qt.ErrorIs, errors.ErrMalformedMetadata)
	})

	c.Run("nok - no content", func(c *qt.C) {
		_, err := client.InferMetadata(ctx, ai.Input{Filename: "empty.pdf"})
		c.Check(err, qt.ErrorIs, errors.ErrInvalidArgument)
	})
}

func TestResponseText(t *testing.T) {
	c := qt.New(t)

	c.Check(responseText(nil), qt.Equals, "")
	c.Check(responseText(&genai.GenerateContentResponse{}), qt.Equals, "")

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: `{"title":"A",`},
				{Text: `"pub_date":"B"}`},
			}},
		}},
	}
	c.Check(responseText(resp), qt.Equals, `{"title":"A","pub_date":"B"}`)
}
