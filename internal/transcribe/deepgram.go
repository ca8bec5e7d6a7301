package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/rest"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
)

const (
	deepgramBaseURL = "https://api.deepgram.com"
	deepgramModel   = "nova-2"
)

// prerecorded is the part of the Deepgram REST client the transcriber uses.
type prerecorded interface {
	FromURL(ctx context.Context, url string, options *interfaces.PreRecordedTranscriptionOptions) (*msginterfaces.PreRecordedResponse, error)
	FromStream(ctx context.Context, src io.Reader, options *interfaces.PreRecordedTranscriptionOptions) (*msginterfaces.PreRecordedResponse, error)
}

// DeepgramTranscriber uses Deepgram's prerecorded API. Hosted audio is
// passed by URL so Deepgram fetches it directly; inline audio is streamed.
type DeepgramTranscriber struct {
	client prerecorded
	model  string
}

func NewDeepgram(apiKey, baseURL, model string) *DeepgramTranscriber {
	client.InitWithDefault()

	opts := &interfaces.ClientOptions{}
	if host := strings.TrimRight(baseURL, "/"); host != "" && host != deepgramBaseURL {
		opts.Host = host
	}
	return newDeepgram(api.New(client.NewREST(apiKey, opts)), model)
}

func newDeepgram(c prerecorded, model string) *DeepgramTranscriber {
	if model == "" {
		model = deepgramModel
	}
	return &DeepgramTranscriber{client: c, model: model}
}

func (d *DeepgramTranscriber) Name() string { return "deepgram" }

func (d *DeepgramTranscriber) options(opts Options) *interfaces.PreRecordedTranscriptionOptions {
	o := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.model,
		SmartFormat: true,
	}
	if opts.LanguageHint != "" && !opts.DetectLanguage {
		o.Language = opts.LanguageHint
	} else {
		o.DetectLanguage = true
	}
	return o
}

func (d *DeepgramTranscriber) Transcribe(ctx context.Context, a Audio, opts Options) (Transcript, error) {
	var (
		res *msginterfaces.PreRecordedResponse
		err error
	)
	if len(a.Data) > 0 {
		res, err = d.client.FromStream(ctx, bytes.NewReader(a.Data), d.options(opts))
	} else {
		res, err = d.client.FromURL(ctx, a.URL, d.options(opts))
	}
	if err != nil {
		return Transcript{}, fmt.Errorf("deepgram request: %w", err)
	}
	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return Transcript{}, ErrNoTranscript
	}

	ch := res.Results.Channels[0]
	lang := ch.DetectedLanguage
	if lang == "" {
		lang = opts.LanguageHint
	}
	return Transcript{
		Text:       strings.TrimSpace(ch.Alternatives[0].Transcript),
		Language:   lang,
		Confidence: ch.Alternatives[0].Confidence,
		Provider:   d.Name(),
	}, nil
}
