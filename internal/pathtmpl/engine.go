// Package pathtmpl renders filesystem locations from catalog metadata and
// user-supplied templates. Rendering is deterministic: identical bindings
// always produce an identical path, which the existing-file skip relies on.
package pathtmpl

import (
	"strings"

	"github.com/tidaldl/tidaldl-go/internal/api"
)

// Bindings maps placeholder names (without braces) to pre-formatted values.
type Bindings map[string]string

// Placeholders lists the recognised placeholders per entity kind.
var Placeholders = map[api.Kind][]string{
	api.KindAlbum: {
		"ArtistName", "AlbumArtistName", "Flag", "AlbumID", "AlbumYear", "AlbumTitle",
		"AudioQuality", "DurationSeconds", "Duration", "NumberOfTracks", "NumberOfVideos",
		"NumberOfVolumes", "ReleaseDate", "RecordType", "None",
	},
	api.KindPlaylist: {"PlaylistUUID", "PlaylistName"},
	api.KindTrack: {
		"TrackNumber", "ArtistName", "ArtistsName", "TrackTitle", "ExplicitFlag", "AlbumYear",
		"AlbumTitle", "AudioQuality", "DurationSeconds", "Duration", "TrackID",
	},
	api.KindVideo: {
		"VideoNumber", "ArtistName", "ArtistsName", "VideoTitle", "ExplicitFlag", "AlbumYear",
		"AlbumTitle", "VideoID",
	},
}

// DefaultTemplates are used when the configured template for a kind is empty.
var DefaultTemplates = map[api.Kind]string{
	api.KindAlbum:    "{ArtistName}/{Flag} {AlbumTitle} [{AlbumID}] [{AlbumYear}]",
	api.KindPlaylist: "Playlist/{PlaylistName} [{PlaylistUUID}]",
	api.KindTrack:    "{TrackNumber} - {ArtistName} - {TrackTitle}{ExplicitFlag}",
	api.KindVideo:    "{VideoNumber} - {ArtistName} - {VideoTitle}{ExplicitFlag}",
}

// UnsafeChars may not appear in a substituted value.
const UnsafeChars = `:/?<>|\*"`

// Engine substitutes bindings into templates.
type Engine struct {
	replacer  *strings.Replacer
	templates map[api.Kind]string
	known     map[api.Kind]map[string]bool
}

// NewEngine creates an engine. replacement stands in for unsafe characters;
// templates overrides DefaultTemplates per kind where non-empty.
func NewEngine(replacement string, templates map[api.Kind]string) *Engine {
	if replacement == "" {
		replacement = "-"
	}

	pairs := make([]string, 0, len(UnsafeChars)*2+6)
	for _, c := range UnsafeChars {
		pairs = append(pairs, string(c), replacement)
	}
	pairs = append(pairs, "\n", "", "\r", "", "\t", "")

	e := &Engine{
		replacer:  strings.NewReplacer(pairs...),
		templates: make(map[api.Kind]string),
		known:     make(map[api.Kind]map[string]bool),
	}
	for kind, names := range Placeholders {
		set := make(map[string]bool, len(names))
		for _, n := range names {
			set[n] = true
		}
		e.known[kind] = set
	}
	for kind, tmpl := range templates {
		if strings.TrimSpace(tmpl) != "" {
			e.templates[kind] = tmpl
		}
	}
	return e
}

// Template returns the effective template for kind.
func (e *Engine) Template(kind api.Kind) string {
	if tmpl, ok := e.templates[kind]; ok {
		return tmpl
	}
	return DefaultTemplates[kind]
}

// Sanitize makes a single value safe to use as (part of) a path component.
func (e *Engine) Sanitize(value string) string {
	value = e.replacer.Replace(stripControl(value))
	value = strings.TrimRight(value, ". ")
	return strings.TrimLeft(value, " ")
}

// Render substitutes bindings into template in one left-to-right pass.
// Unknown placeholders are copied through unchanged; known placeholders
// without a binding render empty. An empty template selects the kind's
// effective template. The result uses '/' as separator.
func (e *Engine) Render(kind api.Kind, template string, bindings Bindings) string {
	if strings.TrimSpace(template) == "" {
		template = e.Template(kind)
	}
	known := e.known[kind]

	var b strings.Builder
	b.Grow(len(template) + 32)
	for i := 0; i < len(template); {
		if template[i] != '{' {
			b.WriteByte(template[i])
			i++
			continue
		}
		end := strings.IndexByte(template[i+1:], '}')
		if end < 0 {
			b.WriteString(template[i:])
			break
		}
		name := template[i+1 : i+1+end]
		if !known[name] {
			b.WriteByte('{')
			i++
			continue
		}
		b.WriteString(e.Sanitize(bindings[name]))
		i += end + 2
	}

	return cleanSegments(b.String())
}

// cleanSegments trims every template-contributed path component and drops
// components left empty by missing bindings.
func cleanSegments(path string) string {
	parts := strings.Split(strings.TrimSpace(path), "/")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimRight(strings.TrimSpace(p), ".")
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, "/")
}
