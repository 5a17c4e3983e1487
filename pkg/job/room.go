package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"
	"github.com/pion/webrtc/v4"
	"gopkg.in/hraban/opus.v2"

	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

const (
	// Remote audio is decoded at the opus native rate.
	inputSampleRate = 48000
	inputChannels   = 1

	// OutputSampleRate is the rate of the published agent track.
	OutputSampleRate = 24000

	outputTrackName = "agent-voice"

	// up to 120 ms of 48 kHz mono per opus packet
	maxOpusFrameSamples = 5760
)

// LiveKitConnector joins rooms with server-sdk-go. URL and Token are used when
// the job Info does not carry its own.
type LiveKitConnector struct {
	URL    string
	Token  string
	Logger *slog.Logger

	// InputBufferSize is the number of decoded 10 ms frames buffered for the session.
	InputBufferSize int
}

// Connect implements Connector.
func (c LiveKitConnector) Connect(ctx context.Context, info Info, subscribe AutoSubscribe) (Room, error) {
	url := info.URL
	if url == "" {
		url = c.URL
	}
	token := info.Token
	if token == "" {
		token = c.Token
	}
	if url == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if token == "" {
		return nil, fmt.Errorf("token is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bufferSize := c.InputBufferSize
	if bufferSize == 0 {
		bufferSize = 100
	}

	r := &LiveKitRoom{
		subscribe: subscribe,
		logger:    logger,
		events:    newEventHub(logger),
		audioIn:   make(chan rtc.AudioFrame, bufferSize),
		readers:   make(map[string]context.CancelFunc),
	}

	room, err := lksdk.ConnectToRoomWithToken(url, token, r.callback(),
		lksdk.WithAutoSubscribe(subscribe == SubscribeAll))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to room: %w", err)
	}
	r.room = room

	if subscribe == SubscribeAudioOnly {
		r.subscribeExistingAudio()
	}

	logger.Info("Connected to LiveKit room",
		slog.String("room_name", room.Name()),
		slog.String("url", url))

	return r, nil
}

var _ EventSource = (*LiveKitRoom)(nil)

// LiveKitRoom adapts *lksdk.Room to Room and exposes the room's audio to the session.
type LiveKitRoom struct {
	room      *lksdk.Room
	subscribe AutoSubscribe
	logger    *slog.Logger
	events    *eventHub

	audioIn chan rtc.AudioFrame

	mu           sync.Mutex
	readers      map[string]context.CancelFunc // track SID -> reader cancel
	out          *lkmedia.PCMLocalTrack
	disconnected bool
}

// Name returns the room name.
func (r *LiveKitRoom) Name() string {
	return r.room.Name()
}

// LocalParticipant returns the agent's participant.
func (r *LiveKitRoom) LocalParticipant() LocalParticipant {
	return &liveKitParticipant{lp: r.room.LocalParticipant}
}

// OnDisconnected registers fn for the room disconnect notification.
func (r *LiveKitRoom) OnDisconnected(fn func()) {
	r.events.subscribe(EventDisconnected, func(Event) { fn() })
}

// Subscribe registers fn for events of type t.
func (r *LiveKitRoom) Subscribe(t EventType, fn func(Event)) {
	r.events.subscribe(t, fn)
}

// Disconnect leaves the room and stops every track reader.
func (r *LiveKitRoom) Disconnect() {
	r.room.Disconnect()
	r.markDisconnected()
}

// AudioInput returns decoded remote audio as 48 kHz mono frames.
func (r *LiveKitRoom) AudioInput() <-chan rtc.AudioFrame {
	return r.audioIn
}

// PublishAudio writes one frame to the agent track, publishing it on first use.
func (r *LiveKitRoom) PublishAudio(ctx context.Context, frame rtc.AudioFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	track, err := r.outputTrack()
	if err != nil {
		return err
	}

	samples := frame.Samples()
	if frame.SampleRate != OutputSampleRate {
		samples = rtc.Resample(samples, frame.SampleRate, OutputSampleRate)
	}
	if err := track.WriteSample(samples); err != nil {
		return fmt.Errorf("failed to write audio sample: %w", err)
	}
	return nil
}

// ClearAudio drops audio queued on the agent track.
func (r *LiveKitRoom) ClearAudio() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out != nil {
		r.out.ClearQueue()
	}
}

func (r *LiveKitRoom) outputTrack() (*lkmedia.PCMLocalTrack, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disconnected {
		return nil, ErrNotConnected
	}
	if r.out != nil {
		return r.out, nil
	}

	track, err := lkmedia.NewPCMLocalTrack(OutputSampleRate, 1, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}
	pub, err := r.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   outputTrackName,
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		track.Close()
		return nil, fmt.Errorf("failed to publish audio track: %w", err)
	}

	r.logger.Info("Published agent audio track",
		slog.String("track_sid", pub.SID()),
		slog.Int("sample_rate", OutputSampleRate))
	r.out = track
	return track, nil
}

func (r *LiveKitRoom) callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			r.events.emit(NewEvent(EventParticipantConnected).WithParticipant(rp.Identity(), rp.SID()))
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			r.events.emit(NewEvent(EventParticipantDisconnected).WithParticipant(rp.Identity(), rp.SID()))
		},
		OnReconnecting: func() {
			r.logger.Warn("Room connection lost, reconnecting")
			r.events.emit(NewEvent(EventReconnecting))
		},
		OnReconnected: func() {
			r.logger.Info("Room connection restored")
			r.events.emit(NewEvent(EventReconnected))
		},
		OnDisconnected: func() {
			r.markDisconnected()
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished:    r.onTrackPublished,
			OnTrackSubscribed:   r.onTrackSubscribed,
			OnTrackUnsubscribed: r.onTrackUnsubscribed,
		},
	}
}

// markDisconnected stops readers and emits EventDisconnected exactly once.
func (r *LiveKitRoom) markDisconnected() {
	r.mu.Lock()
	if r.disconnected {
		r.mu.Unlock()
		return
	}
	r.disconnected = true
	for sid, cancel := range r.readers {
		cancel()
		delete(r.readers, sid)
	}
	if r.out != nil {
		r.out.Close()
	}
	r.mu.Unlock()

	r.logger.Info("Disconnected from LiveKit room")
	r.events.emit(NewEvent(EventDisconnected))
}

func (r *LiveKitRoom) onTrackPublished(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	r.events.emit(NewEvent(EventTrackPublished).
		WithParticipant(rp.Identity(), rp.SID()).
		WithTrack(pub.SID(), pub.Name(), pub.Kind().ProtoType()))

	if r.subscribe != SubscribeAudioOnly || pub.Kind() != lksdk.TrackKindAudio {
		return
	}
	if err := pub.SetSubscribed(true); err != nil {
		r.logger.Error("Failed to subscribe to audio track",
			slog.String("participant", rp.Identity()),
			slog.String("track_sid", pub.SID()),
			slog.String("error", err.Error()))
	}
}

// subscribeExistingAudio covers participants that joined before the agent.
func (r *LiveKitRoom) subscribeExistingAudio() {
	for _, rp := range r.room.GetRemoteParticipants() {
		for _, p := range rp.TrackPublications() {
			pub, ok := p.(*lksdk.RemoteTrackPublication)
			if !ok || pub.Kind() != lksdk.TrackKindAudio {
				continue
			}
			if err := pub.SetSubscribed(true); err != nil {
				r.logger.Error("Failed to subscribe to audio track",
					slog.String("participant", rp.Identity()),
					slog.String("track_sid", pub.SID()),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (r *LiveKitRoom) onTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	r.events.emit(NewEvent(EventTrackSubscribed).
		WithParticipant(rp.Identity(), rp.SID()).
		WithTrack(pub.SID(), pub.Name(), pub.Kind().ProtoType()))

	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	if r.disconnected {
		r.mu.Unlock()
		cancel()
		return
	}
	if prev, ok := r.readers[pub.SID()]; ok {
		prev()
	}
	r.readers[pub.SID()] = cancel
	r.mu.Unlock()

	go r.readAudio(ctx, track, rp.Identity())
}

func (r *LiveKitRoom) onTrackUnsubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	r.mu.Lock()
	if cancel, ok := r.readers[pub.SID()]; ok {
		cancel()
		delete(r.readers, pub.SID())
	}
	r.mu.Unlock()

	r.events.emit(NewEvent(EventTrackUnsubscribed).
		WithParticipant(rp.Identity(), rp.SID()).
		WithTrack(pub.SID(), pub.Name(), pub.Kind().ProtoType()))
}

// readAudio decodes opus RTP payloads from one remote track into 10 ms frames.
func (r *LiveKitRoom) readAudio(ctx context.Context, track *webrtc.TrackRemote, participant string) {
	decoder, err := opus.NewDecoder(inputSampleRate, inputChannels)
	if err != nil {
		r.logger.Error("Failed to create opus decoder",
			slog.String("participant", participant),
			slog.String("error", err.Error()))
		return
	}

	framer := rtc.NewFramer(inputSampleRate, inputChannels)
	pcm := make([]int16, maxOpusFrameSamples)
	dropped := 0

	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.logger.Debug("Audio track ended", slog.String("participant", participant))
				return
			}
			if ctx.Err() != nil {
				return
			}
			r.logger.Debug("Error reading RTP packet", slog.String("error", err.Error()))
			continue
		}
		if len(pkt.Payload) == 0 {
			continue
		}

		n, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			r.logger.Debug("Failed to decode opus frame",
				slog.String("participant", participant),
				slog.String("error", err.Error()))
			continue
		}

		for _, frame := range framer.Write(rtc.SamplesToBytes(pcm[:n])) {
			select {
			case r.audioIn <- frame:
			case <-ctx.Done():
				return
			default:
				dropped++
				if dropped%100 == 1 {
					r.logger.Warn("Audio input buffer full, dropping frames",
						slog.String("participant", participant),
						slog.Int("dropped", dropped))
				}
			}
		}
	}
}

type liveKitParticipant struct {
	lp *lksdk.LocalParticipant
}

func (p *liveKitParticipant) Identity() string {
	return p.lp.Identity()
}

func (p *liveKitParticipant) SetMetadata(ctx context.Context, metadata string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.lp == nil {
		return ErrNotConnected
	}
	p.lp.SetMetadata(metadata)
	return nil
}
