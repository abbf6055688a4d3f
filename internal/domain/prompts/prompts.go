package prompts

import (
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"voxline-server-golang/internal/data/audio"
	"voxline-server-golang/internal/util"
	log "voxline-server-golang/logger"
)

// Kind names a canned spoken prompt slot.
type Kind string

const (
	KindGreeting     Kind = "greeting"      // first-turn opener
	KindWelcomeBack  Kind = "welcome_back"  // opener for returning callers
	KindThinking     Kind = "thinking"      // loading filler while the answer is prepared
	KindStillWorking Kind = "still_working" // soft-timeout reassurance
	KindApology      Kind = "apology"       // hard-timeout bailout
	KindStillThere   Kind = "still_there"   // long-silence re-engagement
)

var allKinds = []Kind{KindGreeting, KindWelcomeBack, KindThinking, KindStillWorking, KindApology, KindStillThere}

// defaultTexts back every slot so a bare config still speaks.
var defaultTexts = map[Kind][]string{
	KindGreeting:     {"Hello! How can I help you today?", "Hi there, what can I do for you?"},
	KindWelcomeBack:  {"Welcome back! What can I do for you today?"},
	KindThinking:     {"One moment please.", "Let me check that for you."},
	KindStillWorking: {"Sorry, this is taking a little longer than expected."},
	KindApology:      {"I'm sorry, I couldn't get an answer right now. Please try again in a moment."},
	KindStillThere:   {"Are you still there?"},
}

// Prompt is one variant of a canned utterance. Frames are pre-decoded
// PCM16 when an audio asset exists; otherwise Text goes through the live
// synthesis path.
type Prompt struct {
	Text   string
	Frames [][]byte
}

// Library holds the decoded prompt variants for one output format. It is
// immutable after load, so calls share one instance without locking.
type Library struct {
	format  audio.AudioFormat
	prompts map[Kind][]Prompt
}

// LoadLibrary reads the prompts.* config tree. Each kind may list text
// variants and audio asset files (wav or mp3) under prompts.dir; assets
// are decoded to the output format at startup.
func LoadLibrary(format audio.AudioFormat) *Library {
	lib := &Library{
		format:  format,
		prompts: make(map[Kind][]Prompt),
	}
	dir := viper.GetString("prompts.dir")

	for _, kind := range allKinds {
		texts := viper.GetStringSlice("prompts." + string(kind) + ".texts")
		if len(texts) == 0 {
			texts = defaultTexts[kind]
		}
		for _, text := range texts {
			lib.prompts[kind] = append(lib.prompts[kind], Prompt{Text: text})
		}

		for _, name := range viper.GetStringSlice("prompts." + string(kind) + ".audio") {
			path := name
			if dir != "" && !filepath.IsAbs(name) {
				path = filepath.Join(dir, name)
			}
			frames, err := decodeAsset(path, format)
			if err != nil {
				log.Warnf("prompt asset %s skipped: %v", path, err)
				continue
			}
			text := ""
			if idx := len(lib.prompts[kind]); idx > 0 {
				text = lib.prompts[kind][0].Text
			}
			lib.prompts[kind] = append(lib.prompts[kind], Prompt{Text: text, Frames: frames})
		}
	}
	return lib
}

// decodeAsset reads one wav/mp3 file into output-format frames.
func decodeAsset(path string, format audio.AudioFormat) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	codec := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	outputChan := make(chan []byte, 1000)
	decoder, err := util.CreateAudioDecoder(f, outputChan, format, codec)
	if err != nil {
		return nil, err
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- decoder.Run(0)
	}()

	var frames [][]byte
	for frame := range outputChan {
		frames = append(frames, frame)
	}
	if err := <-errChan; err != nil {
		return nil, err
	}
	return frames, nil
}

// Pick returns a random variant for the slot. The boolean is false only
// for an unknown kind.
func (l *Library) Pick(kind Kind) (Prompt, bool) {
	variants := l.prompts[kind]
	if len(variants) == 0 {
		return Prompt{}, false
	}
	return variants[rand.Intn(len(variants))], true
}
