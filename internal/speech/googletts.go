package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"

	"github.com/sjawhar/rehearsal/internal/media"
)

const (
	ttsSampleRate = 24000
	boundaryRunes = 4
)

// GoogleSynthesizer synthesizes LINEAR16 audio with Cloud Text-to-Speech and
// plays it through a media.Player. Boundary events are spread over the audio
// in proportion to where each phrase starts in the text.
type GoogleSynthesizer struct {
	listVoices func(context.Context, *texttospeechpb.ListVoicesRequest) (*texttospeechpb.ListVoicesResponse, error)
	synthesize func(context.Context, *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error)
	closeFn    func() error
	player     media.Player
	after      func(time.Duration) <-chan time.Time
}

func NewGoogleSynthesizer(ctx context.Context, credentialsFile string, player media.Player) (*GoogleSynthesizer, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create text-to-speech client: %w", err)
	}
	return &GoogleSynthesizer{
		listVoices: func(ctx context.Context, req *texttospeechpb.ListVoicesRequest) (*texttospeechpb.ListVoicesResponse, error) {
			return c.ListVoices(ctx, req)
		},
		synthesize: func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
			return c.SynthesizeSpeech(ctx, req)
		},
		closeFn: c.Close,
		player:  player,
		after:   time.After,
	}, nil
}

func (g *GoogleSynthesizer) Close() error {
	if g.closeFn == nil {
		return nil
	}
	return g.closeFn()
}

func (g *GoogleSynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	resp, err := g.listVoices(ctx, &texttospeechpb.ListVoicesRequest{})
	if err != nil {
		return nil, err
	}
	voices := make([]Voice, 0, len(resp.GetVoices()))
	for _, v := range resp.GetVoices() {
		voices = append(voices, Voice{
			Name:       v.GetName(),
			Language:   strings.Join(v.GetLanguageCodes(), ","),
			Gender:     strings.ToLower(v.GetSsmlGender().String()),
			SampleRate: int(v.GetNaturalSampleRateHertz()),
		})
	}
	return voices, nil
}

func (g *GoogleSynthesizer) Speak(ctx context.Context, u Utterance, h SynthesisHandlers) (Speech, error) {
	if g.player == nil {
		return nil, fmt.Errorf("google speak: %w", media.ErrUnsupported)
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &googleSpeech{cancel: cancel}
	go g.run(ctx, s, u, h)
	return s, nil
}

func (g *GoogleSynthesizer) run(ctx context.Context, s *googleSpeech, u Utterance, h SynthesisHandlers) {
	fail := func(err error) {
		if ctx.Err() == nil && h.OnError != nil {
			h.OnError(err)
		}
	}

	voice := &texttospeechpb.VoiceSelectionParams{LanguageCode: u.Language, Name: u.Voice}
	resp, err := g.synthesize(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: u.Text},
		},
		Voice: voice,
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
			SpeakingRate:    u.Rate,
			SampleRateHertz: ttsSampleRate,
		},
	})
	if err != nil {
		fail(fmt.Errorf("synthesize speech: %w", err))
		return
	}

	pcm, rate, err := media.DecodeWAV(resp.GetAudioContent())
	if err != nil {
		fail(err)
		return
	}
	if rate <= 0 {
		rate = ttsSampleRate
	}

	pb, err := g.player.Play(ctx, pcm, rate, u.Volume)
	if err != nil {
		fail(fmt.Errorf("play speech: %w", err))
		return
	}
	if !s.attach(pb) {
		return
	}
	if h.OnStart != nil {
		h.OnStart()
	}

	duration := time.Duration(len(pcm)/2) * time.Second / time.Duration(rate)
	elapsed := time.Duration(0)
	for _, at := range boundaryOffsets(u.Text, duration) {
		select {
		case <-pb.Done():
		case <-ctx.Done():
		case <-g.after(at - elapsed):
			elapsed = at
			if ctx.Err() == nil && h.OnBoundary != nil {
				h.OnBoundary()
			}
			continue
		}
		break
	}

	<-pb.Done()
	if ctx.Err() != nil {
		return
	}
	if err := pb.Err(); err != nil {
		fail(err)
		return
	}
	if h.OnEnd != nil {
		h.OnEnd()
	}
}

// boundaryOffsets places one boundary at the start of every phrase, and every
// few runes within long phrases, scaled to the audio duration.
func boundaryOffsets(text string, duration time.Duration) []time.Duration {
	runes := []rune(text)
	if len(runes) == 0 || duration <= 0 {
		return nil
	}
	var offsets []time.Duration
	run := 0
	for i, r := range runes {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			run = 0
			continue
		}
		if run%boundaryRunes == 0 {
			offsets = append(offsets, duration*time.Duration(i)/time.Duration(len(runes)))
		}
		run++
	}
	return offsets
}

type googleSpeech struct {
	cancel context.CancelFunc

	mu       sync.Mutex
	pb       media.Playback
	canceled bool
}

func (s *googleSpeech) attach(pb media.Playback) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		pb.Stop()
		return false
	}
	s.pb = pb
	return true
}

func (s *googleSpeech) Cancel() {
	s.mu.Lock()
	s.canceled = true
	pb := s.pb
	s.mu.Unlock()

	s.cancel()
	if pb != nil {
		pb.Stop()
	}
}
