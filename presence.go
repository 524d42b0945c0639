package richpresence

import (
	"strconv"
	"time"
	"unicode/utf8"
)

const (
	maxDetailsLen   = 128
	maxStateLen     = 128
	maxImageKeyLen  = 32
	maxImageTextLen = 128
	maxPartyIDLen   = 128
	maxSecretLen    = 128
)

// Timestamps bounds a presence to a start and/or end instant, encoded on
// the wire as unsigned milliseconds since the Unix epoch.
type Timestamps struct {
	Start *time.Time
	End   *time.Time
}

// Assets are the large/small image and hover-text pair shown alongside a
// presence. ImageID fields hold a server-assigned numeric id once Discord
// has resolved a key to one; see [Presence.Merge].
type Assets struct {
	LargeImageKey string
	LargeImageID  uint64
	LargeText     string
	SmallImageKey string
	SmallImageID  uint64
	SmallText     string
}

// Party describes the user's current group. Size and Max are always
// coerced so Size is at least 1 and Max is at least Size — see
// Presence.WithParty for the exact rule.
type Party struct {
	ID   string
	Size int
	Max  int
}

// Secrets are opaque join/spectate/match tokens the client round-trips
// through Discord to its own backend when a peer accepts an invite.
type Secrets struct {
	Join     string
	Spectate string
	Match    string
}

// Presence is the Rich Presence record a client publishes. The zero
// value is a valid, empty presence.
type Presence struct {
	State      string
	Details    string
	Timestamps Timestamps
	Assets     Assets
	Party      *Party
	Secrets    *Secrets
}

// NewPresence returns an empty Presence ready for chained With* calls.
func NewPresence() *Presence {
	return &Presence{}
}

// trimUTF8 truncates s to at most max bytes without splitting a rune.
func trimUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	b := []byte(s)[:max]
	for len(b) > 0 && !utf8.RuneStart(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	for len(b) > 0 {
		if r, _ := utf8.DecodeLastRune(b); r != utf8.RuneError {
			break
		}
		b = b[:len(b)-1]
	}
	return string(b)
}

func checkLen(field, s string, max int) error {
	if len(s) > max {
		return newError(ErrKindStringOutOfRange, field+" exceeds "+strconv.Itoa(max)+" bytes")
	}
	return nil
}

// WithState sets the presence's "state" line, silently trimming to
// maxStateLen bytes on a rune boundary rather than rejecting oversized
// input — state is the one field the wire format trims instead of
// validating strictly.
func (p *Presence) WithState(s string) (*Presence, error) {
	p.State = trimUTF8(s, maxStateLen)
	return p, nil
}

// WithDetails sets the presence's "details" line.
func (p *Presence) WithDetails(s string) (*Presence, error) {
	if err := checkLen("details", s, maxDetailsLen); err != nil {
		return p, err
	}
	p.Details = s
	return p, nil
}

// WithStartTime sets Timestamps.Start.
func (p *Presence) WithStartTime(t time.Time) (*Presence, error) {
	start := t
	p.Timestamps.Start = &start
	return p, nil
}

// WithEndTime sets Timestamps.End.
func (p *Presence) WithEndTime(t time.Time) (*Presence, error) {
	end := t
	p.Timestamps.End = &end
	return p, nil
}

// ClearTime clears both Start and End.
func (p *Presence) ClearTime() *Presence {
	p.Timestamps = Timestamps{}
	return p
}

// WithLargeAsset sets the large image key and hover text.
func (p *Presence) WithLargeAsset(key, text string) (*Presence, error) {
	if err := checkLen("large_image", key, maxImageKeyLen); err != nil {
		return p, err
	}
	if err := checkLen("large_text", text, maxImageTextLen); err != nil {
		return p, err
	}
	p.Assets.LargeImageKey = key
	p.Assets.LargeText = text
	return p, nil
}

// WithSmallAsset sets the small image key and hover text.
func (p *Presence) WithSmallAsset(key, text string) (*Presence, error) {
	if err := checkLen("small_image", key, maxImageKeyLen); err != nil {
		return p, err
	}
	if err := checkLen("small_text", text, maxImageTextLen); err != nil {
		return p, err
	}
	p.Assets.SmallImageKey = key
	p.Assets.SmallText = text
	return p, nil
}

// WithParty sets the party id and size/max. Size and max are always
// coerced to a valid pair: size is clamped to at least 1, and max is
// raised to at least size, so the serialized pair is always
// [max(1,size), max(size,max)] — see scenario 5 and the party-size
// testable property; this never rejects an inverted size/max, it
// corrects it.
func (p *Presence) WithParty(id string, size, max int) (*Presence, error) {
	if err := checkLen("party.id", id, maxPartyIDLen); err != nil {
		return p, err
	}
	if size < 1 {
		size = 1
	}
	if max < size {
		max = size
	}
	p.Party = &Party{ID: id, Size: size, Max: max}
	return p, nil
}

// WithPartySize updates only size/max on the existing party (or creates
// one with an empty id if none exists yet), applying the same coercion
// as WithParty.
func (p *Presence) WithPartySize(size, max int) (*Presence, error) {
	id := ""
	if p.Party != nil {
		id = p.Party.ID
	}
	return p.WithParty(id, size, max)
}

// WithSecrets sets join/spectate/match secrets. A presence with secrets
// but no party is legal but the caller should expect Discord to warn;
// this package does not reject it.
func (p *Presence) WithSecrets(join, spectate, match string) (*Presence, error) {
	if err := checkLen("secrets.join", join, maxSecretLen); err != nil {
		return p, err
	}
	if err := checkLen("secrets.spectate", spectate, maxSecretLen); err != nil {
		return p, err
	}
	if err := checkLen("secrets.match", match, maxSecretLen); err != nil {
		return p, err
	}
	p.Secrets = &Secrets{Join: join, Spectate: spectate, Match: match}
	return p, nil
}

// Validate checks every field against its wire byte budget, applying
// the same normalization the With* builders do: state is trimmed to a
// rune boundary and party size/max are coerced to a valid pair. It
// exists because the struct fields are exported — a Presence assembled
// as a literal gets the same treatment here as one built through the
// builders. Validate mutates p (trim, coercion) and returns the first
// budget violation found.
func (p *Presence) Validate() error {
	if p == nil {
		return nil
	}
	p.State = trimUTF8(p.State, maxStateLen)
	if err := checkLen("details", p.Details, maxDetailsLen); err != nil {
		return err
	}
	if err := checkLen("large_image", p.Assets.LargeImageKey, maxImageKeyLen); err != nil {
		return err
	}
	if err := checkLen("large_text", p.Assets.LargeText, maxImageTextLen); err != nil {
		return err
	}
	if err := checkLen("small_image", p.Assets.SmallImageKey, maxImageKeyLen); err != nil {
		return err
	}
	if err := checkLen("small_text", p.Assets.SmallText, maxImageTextLen); err != nil {
		return err
	}
	if p.Party != nil {
		if err := checkLen("party.id", p.Party.ID, maxPartyIDLen); err != nil {
			return err
		}
		if p.Party.Size < 1 {
			p.Party.Size = 1
		}
		if p.Party.Max < p.Party.Size {
			p.Party.Max = p.Party.Size
		}
	}
	if p.Secrets != nil {
		if err := checkLen("secrets.join", p.Secrets.Join, maxSecretLen); err != nil {
			return err
		}
		if err := checkLen("secrets.spectate", p.Secrets.Spectate, maxSecretLen); err != nil {
			return err
		}
		if err := checkLen("secrets.match", p.Secrets.Match, maxSecretLen); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep, independently mutable copy of p.
func (p *Presence) Clone() *Presence {
	if p == nil {
		return nil
	}
	out := *p
	if p.Timestamps.Start != nil {
		start := *p.Timestamps.Start
		out.Timestamps.Start = &start
	}
	if p.Timestamps.End != nil {
		end := *p.Timestamps.End
		out.Timestamps.End = &end
	}
	if p.Party != nil {
		party := *p.Party
		out.Party = &party
	}
	if p.Secrets != nil {
		secrets := *p.Secrets
		out.Secrets = &secrets
	}
	return &out
}

// Merge applies server-echoed fields from other onto p: scalars, party,
// secrets, and timestamps are replaced wholesale. Image keys are treated
// specially: if Discord resolved a key to a numeric snowflake id, the id
// field is populated and the key is left alone; otherwise the key is
// replaced and the id cleared.
func (p *Presence) Merge(other *Presence) {
	if other == nil {
		return
	}
	p.State = other.State
	p.Details = other.Details
	p.Timestamps = other.Timestamps
	p.Party = other.Party
	p.Secrets = other.Secrets
	mergeAssetSlot(&p.Assets.LargeImageKey, &p.Assets.LargeImageID, other.Assets.LargeImageKey, other.Assets.LargeImageID)
	p.Assets.LargeText = other.Assets.LargeText
	mergeAssetSlot(&p.Assets.SmallImageKey, &p.Assets.SmallImageID, other.Assets.SmallImageKey, other.Assets.SmallImageID)
	p.Assets.SmallText = other.Assets.SmallText
}

func mergeAssetSlot(key *string, id *uint64, otherKey string, otherID uint64) {
	if otherID != 0 {
		*id = otherID
		return
	}
	if n, err := strconv.ParseUint(otherKey, 10, 64); err == nil && otherKey != "" {
		*id = n
		return
	}
	*key = otherKey
	*id = 0
}

// toArgs renders p into the map the SET_ACTIVITY command carries as its
// "activity" argument.
func (p *Presence) toArgs() map[string]any {
	if p == nil {
		return nil
	}
	args := map[string]any{}
	if p.State != "" {
		args["state"] = p.State
	}
	if p.Details != "" {
		args["details"] = p.Details
	}
	if p.Timestamps.Start != nil || p.Timestamps.End != nil {
		ts := map[string]any{}
		if p.Timestamps.Start != nil {
			ts["start"] = p.Timestamps.Start.UnixMilli()
		}
		if p.Timestamps.End != nil {
			ts["end"] = p.Timestamps.End.UnixMilli()
		}
		args["timestamps"] = ts
	}
	if p.Assets != (Assets{}) {
		assets := map[string]any{}
		if p.Assets.LargeImageKey != "" {
			assets["large_image"] = p.Assets.LargeImageKey
		}
		if p.Assets.LargeText != "" {
			assets["large_text"] = p.Assets.LargeText
		}
		if p.Assets.SmallImageKey != "" {
			assets["small_image"] = p.Assets.SmallImageKey
		}
		if p.Assets.SmallText != "" {
			assets["small_text"] = p.Assets.SmallText
		}
		if len(assets) > 0 {
			args["assets"] = assets
		}
	}
	if p.Party != nil {
		args["party"] = map[string]any{
			"id":   p.Party.ID,
			"size": [2]int{p.Party.Size, p.Party.Max},
		}
	}
	if p.Secrets != nil {
		secrets := map[string]any{}
		if p.Secrets.Join != "" {
			secrets["join"] = p.Secrets.Join
		}
		if p.Secrets.Spectate != "" {
			secrets["spectate"] = p.Secrets.Spectate
		}
		if p.Secrets.Match != "" {
			secrets["match"] = p.Secrets.Match
		}
		if len(secrets) > 0 {
			args["secrets"] = secrets
		}
	}
	return args
}

// presenceFromData reconstructs the scalar/text fields of a Presence from
// a decoded SET_ACTIVITY ack's data map, for Merge.
func presenceFromData(data map[string]any) *Presence {
	p := &Presence{}
	if data == nil {
		return p
	}
	if v, ok := data["state"].(string); ok {
		p.State = v
	}
	if v, ok := data["details"].(string); ok {
		p.Details = v
	}
	if assets, ok := data["assets"].(map[string]any); ok {
		if v, ok := assets["large_image"].(string); ok {
			p.Assets.LargeImageKey = v
		}
		if v, ok := assets["large_text"].(string); ok {
			p.Assets.LargeText = v
		}
		if v, ok := assets["small_image"].(string); ok {
			p.Assets.SmallImageKey = v
		}
		if v, ok := assets["small_text"].(string); ok {
			p.Assets.SmallText = v
		}
	}
	if party, ok := data["party"].(map[string]any); ok {
		pt := &Party{}
		if v, ok := party["id"].(string); ok {
			pt.ID = v
		}
		if size, ok := party["size"].([]any); ok && len(size) == 2 {
			if s, ok := size[0].(float64); ok {
				pt.Size = int(s)
			}
			if m, ok := size[1].(float64); ok {
				pt.Max = int(m)
			}
		}
		p.Party = pt
	}
	return p
}
