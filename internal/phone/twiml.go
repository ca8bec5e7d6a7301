package phone

import (
	"log/slog"
	"strconv"

	"github.com/twilio/twilio-go/twiml"

	"github.com/kalambet/twin/internal/speech"
)

// fallbackTwiML is served if rendering itself fails, so the caller always
// hears something and the call ends cleanly.
const fallbackTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response><Say>Sorry, something went wrong. Goodbye.</Say><Hangup/></Response>`

// renderer builds call-control documents.
type renderer struct {
	publicURL       string
	recordMaxLength int
}

func (r renderer) url(path string) string {
	return r.publicURL + path
}

// play renders audio as <Play> or, for the built-in voice, <Say>.
func (r renderer) play(a speech.Audio) twiml.Element {
	if a.URL != "" {
		return &twiml.VoicePlay{Url: a.URL}
	}
	say := &twiml.VoiceSay{}
	if a.Say != nil {
		say.Message = a.Say.Text
		say.Voice = a.Say.Voice
		say.Language = a.Say.Language
	}
	return say
}

// record asks for the next utterance. A caller who stays silent falls
// through to the redirect, which reports the silence.
func (r renderer) record() []twiml.Element {
	return []twiml.Element{
		&twiml.VoiceRecord{
			Action:    r.url("/phone/recording"),
			Method:    "POST",
			MaxLength: strconv.Itoa(r.recordMaxLength),
			Timeout:   "3",
			PlayBeep:  "false",
			Trim:      "trim-silence",
		},
		&twiml.VoiceRedirect{Url: r.url("/phone/recording"), Method: "POST"},
	}
}

func (r renderer) render(verbs ...twiml.Element) string {
	doc, err := twiml.Voice(verbs)
	if err != nil {
		slog.Error("rendering twiml failed", "error", err)
		return fallbackTwiML
	}
	return doc
}

// playThenRecord plays each audio in order and records the next utterance.
func (r renderer) playThenRecord(audio ...speech.Audio) string {
	verbs := make([]twiml.Element, 0, len(audio)+2)
	for _, a := range audio {
		verbs = append(verbs, r.play(a))
	}
	return r.render(append(verbs, r.record()...)...)
}

func (r renderer) recordOnly() string {
	return r.render(r.record()...)
}

// playThenWait plays the thinking cue and comes back for the pending turn.
func (r renderer) playThenWait(cue speech.Audio) string {
	return r.render(r.play(cue), &twiml.VoiceRedirect{Url: r.url("/phone/pending"), Method: "POST"})
}

func (r renderer) playThenHangup(a speech.Audio) string {
	return r.render(r.play(a), &twiml.VoiceHangup{})
}

func (r renderer) hangup() string {
	return r.render(&twiml.VoiceHangup{})
}
