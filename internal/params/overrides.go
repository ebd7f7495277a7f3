package params

import "github.com/guidoenr/shufflizer/internal/theme"

// EffectOverrides is a partial Effect. Nil fields leave the target alone.
type EffectOverrides struct {
	Spin          *float64 `json:"spin,omitempty"`
	Trail         *float64 `json:"trail,omitempty"`
	Zap           *float64 `json:"zap,omitempty"`
	Spawn         *int     `json:"spawn,omitempty"`
	Shockwave     *float64 `json:"shockwave,omitempty"`
	BeatThreshold *float64 `json:"beatThresh,omitempty"`
	Glow          *bool    `json:"glow,omitempty"`
	Phosphor      *bool    `json:"phosphor,omitempty"`
	Segments      *int     `json:"segments,omitempty"`
}

// Apply copies every set field onto e.
func (o EffectOverrides) Apply(e *Effect) {
	setFloat(&e.Spin, o.Spin)
	setFloat(&e.Trail, o.Trail)
	setFloat(&e.Zap, o.Zap)
	setInt(&e.Spawn, o.Spawn)
	setFloat(&e.Shockwave, o.Shockwave)
	setFloat(&e.BeatThreshold, o.BeatThreshold)
	setBool(&e.Glow, o.Glow)
	setBool(&e.Phosphor, o.Phosphor)
	setInt(&e.Segments, o.Segments)
}

// Fill supplies effect-specific fields the shared sliders leave unset.
// Only Segments has an unset state; zero is valid for everything else.
func (o EffectOverrides) Fill(e *Effect) {
	if e.Segments == 0 {
		setInt(&e.Segments, o.Segments)
	}
}

// OverlayOverrides is a partial Overlay.
type OverlayOverrides struct {
	Hub            *bool    `json:"ovHub,omitempty"`
	Big            *bool    `json:"ovBig,omitempty"`
	Spoke          *bool    `json:"ovSpoke,omitempty"`
	Throb          *float64 `json:"ovThrob,omitempty"`
	HubRadius      *float64 `json:"ovHubR,omitempty"`
	HubAmp         *float64 `json:"ovHubAmp,omitempty"`
	HubRot         *float64 `json:"ovHubRot,omitempty"`
	BigRadius      *float64 `json:"ovBigR,omitempty"`
	BigAmp         *float64 `json:"ovBigAmp,omitempty"`
	BigRot         *float64 `json:"ovBigRot,omitempty"`
	SpokeLength    *float64 `json:"ovSpokeLen,omitempty"`
	SpokeAmp       *float64 `json:"ovSpokeAmp,omitempty"`
	SpokeRot       *float64 `json:"ovSpokeRot,omitempty"`
	TitleParticles *bool    `json:"titleParticles,omitempty"`
	TrackText      *bool    `json:"trackText,omitempty"`
}

// Apply copies every set field onto ov.
func (o OverlayOverrides) Apply(ov *Overlay) {
	setBool(&ov.Hub, o.Hub)
	setBool(&ov.Big, o.Big)
	setBool(&ov.Spoke, o.Spoke)
	setFloat(&ov.Throb, o.Throb)
	setFloat(&ov.HubRadius, o.HubRadius)
	setFloat(&ov.HubAmp, o.HubAmp)
	setFloat(&ov.HubRot, o.HubRot)
	setFloat(&ov.BigRadius, o.BigRadius)
	setFloat(&ov.BigAmp, o.BigAmp)
	setFloat(&ov.BigRot, o.BigRot)
	setFloat(&ov.SpokeLength, o.SpokeLength)
	setFloat(&ov.SpokeAmp, o.SpokeAmp)
	setFloat(&ov.SpokeRot, o.SpokeRot)
	setBool(&ov.TitleParticles, o.TitleParticles)
	setBool(&ov.TrackText, o.TrackText)
}

// Update is a partial State as accepted over HTTP.
type Update struct {
	Effect   *EffectOverrides  `json:"effect,omitempty"`
	Overlay  *OverlayOverrides `json:"overlay,omitempty"`
	EffectID *string           `json:"effectId,omitempty"`
	Palette  *string           `json:"palette,omitempty"`
	Custom   *theme.Palette    `json:"customPalette,omitempty"`
	Muted    *bool             `json:"muted,omitempty"`
}

// Apply merges u into s and clamps the result.
func (u Update) Apply(s *State) {
	if u.Effect != nil {
		u.Effect.Apply(&s.Effect)
		s.Effect.Clamp()
	}
	if u.Overlay != nil {
		u.Overlay.Apply(&s.Overlay)
		s.Overlay.Clamp()
	}
	if u.EffectID != nil {
		s.EffectID = *u.EffectID
	}
	if u.Palette != nil {
		s.Palette = *u.Palette
	}
	if u.Custom != nil {
		s.Custom = theme.NormalizePalette(*u.Custom, s.Custom)
	}
	setBool(&s.Muted, u.Muted)
}

// Float, Int and Bool return pointers for building overrides inline.
func Float(v float64) *float64 { return &v }
func Int(v int) *int           { return &v }
func Bool(v bool) *bool        { return &v }

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
