package metadata

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	mp4tag "github.com/Sorrow446/go-mp4tag"
	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

// Manager handles metadata operations for audio files
type Manager struct {
	config *Config
}

// Config contains metadata configuration
type Config struct {
	EmbedArtwork bool
	ArtworkSize  int
}

// TrackMetadata contains all metadata for a track
type TrackMetadata struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	Composer    string
	Genre       string
	Date        string
	Copyright   string
	ISRC        string
	Lyrics      string
	TrackNumber int
	TrackTotal  int
	DiscNumber  int
	DiscTotal   int
	ArtworkData []byte
	ArtworkMIME string
}

// NewManager creates a new metadata manager
func NewManager(config *Config) *Manager {
	if config == nil {
		config = &Config{
			EmbedArtwork: true,
			ArtworkSize:  1280,
		}
	}
	return &Manager{
		config: config,
	}
}

// ApplyMetadata writes metadata into an audio file. The container is chosen
// from the file's signature, so a FLAC stream saved as .m4a is still tagged
// correctly.
func (m *Manager) ApplyMetadata(filePath string, metadata *TrackMetadata) error {
	if metadata == nil {
		return fmt.Errorf("metadata cannot be nil")
	}

	format, err := DetectFormat(filePath)
	if err != nil {
		return fmt.Errorf("failed to inspect file: %w", err)
	}

	switch format {
	case FormatMP4:
		return m.applyMP4Metadata(filePath, metadata)
	case FormatFLAC:
		return m.applyFLACMetadata(filePath, metadata)
	case FormatMP3:
		return m.applyMP3Metadata(filePath, metadata)
	default:
		return fmt.Errorf("unsupported file format: %s", filePath)
	}
}

// applyMP4Metadata writes iTunes-style atoms.
func (m *Manager) applyMP4Metadata(filePath string, metadata *TrackMetadata) error {
	mp4, err := mp4tag.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open MP4 file: %w", err)
	}
	defer mp4.Close()

	tags := &mp4tag.MP4Tags{
		Title:       metadata.Title,
		Artist:      metadata.Artist,
		Album:       metadata.Album,
		AlbumArtist: metadata.AlbumArtist,
		Composer:    metadata.Composer,
		CustomGenre: metadata.Genre,
		Date:        metadata.Date,
		Copyright:   metadata.Copyright,
		Lyrics:      metadata.Lyrics,
		TrackNumber: int16(metadata.TrackNumber),
		TrackTotal:  int16(metadata.TrackTotal),
		DiscNumber:  int16(metadata.DiscNumber),
		DiscTotal:   int16(metadata.DiscTotal),
		Custom:      map[string]string{},
	}
	if metadata.ISRC != "" {
		tags.Custom["ISRC"] = metadata.ISRC
	}
	if m.config.EmbedArtwork && len(metadata.ArtworkData) > 0 {
		tags.Pictures = []*mp4tag.MP4Picture{{Data: metadata.ArtworkData}}
	}

	if err := mp4.Write(tags, []string{}); err != nil {
		return fmt.Errorf("failed to save MP4 metadata: %w", err)
	}
	return nil
}

// applyMP3Metadata applies metadata to an MP3 file using ID3v2
func (m *Manager) applyMP3Metadata(filePath string, metadata *TrackMetadata) error {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)

	if metadata.Title != "" {
		tag.SetTitle(metadata.Title)
	}
	if metadata.Artist != "" {
		tag.SetArtist(metadata.Artist)
	}
	if metadata.Album != "" {
		tag.SetAlbum(metadata.Album)
	}
	if metadata.Genre != "" {
		tag.SetGenre(metadata.Genre)
	}

	setText := func(id, value string) {
		if value == "" {
			return
		}
		tag.DeleteFrames(id)
		tag.AddTextFrame(id, id3v2.EncodingUTF8, value)
	}
	setText("TPE2", metadata.AlbumArtist)
	setText("TCOM", metadata.Composer)
	setText("TDRC", metadata.Date)
	setText("TCOP", metadata.Copyright)
	setText("TSRC", metadata.ISRC)
	setText("TRCK", numberPair(metadata.TrackNumber, metadata.TrackTotal))
	setText("TPOS", numberPair(metadata.DiscNumber, metadata.DiscTotal))

	if metadata.Lyrics != "" {
		tag.DeleteFrames(tag.CommonID("Unsynchronised lyrics/text transcription"))
		tag.AddUnsynchronisedLyricsFrame(id3v2.UnsynchronisedLyricsFrame{
			Encoding: id3v2.EncodingUTF8,
			Language: "eng",
			Lyrics:   metadata.Lyrics,
		})
	}

	if m.config.EmbedArtwork && len(metadata.ArtworkData) > 0 {
		tag.DeleteFrames(tag.CommonID("Attached picture"))
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    artworkMIME(metadata),
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     metadata.ArtworkData,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("failed to save MP3 metadata: %w", err)
	}
	return nil
}

// applyFLACMetadata applies metadata to a FLAC file using Vorbis comments
func (m *Manager) applyFLACMetadata(filePath string, metadata *TrackMetadata) error {
	f, err := flac.ParseFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	if err := ApplyFLAC(f, metadata, m.config.EmbedArtwork); err != nil {
		return err
	}

	if err := f.Save(filePath); err != nil {
		return fmt.Errorf("failed to save FLAC file: %w", err)
	}
	return nil
}

// ApplyFLAC sets the Vorbis comments of a parsed FLAC stream and, when
// artwork is present, replaces its front cover. Fields not set by metadata
// are preserved.
func ApplyFLAC(f *flac.File, metadata *TrackMetadata, embedArtwork bool) error {
	var cmtBlock *flac.MetaDataBlock
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			cmtBlock = block
			break
		}
	}
	if cmtBlock == nil {
		cmtBlock = &flac.MetaDataBlock{Type: flac.VorbisComment}
		f.Meta = append(f.Meta, cmtBlock)
	}

	cmt, err := flacvorbis.ParseFromMetaDataBlock(*cmtBlock)
	if err != nil {
		cmt = flacvorbis.New()
	}

	fields := VorbisFields(metadata)
	kept := cmt.Comments[:0]
	for _, c := range cmt.Comments {
		key, _, _ := strings.Cut(c, "=")
		if _, replaced := fields[strings.ToUpper(key)]; !replaced {
			kept = append(kept, c)
		}
	}
	cmt.Comments = kept

	for _, key := range vorbisOrder {
		if value, ok := fields[key]; ok {
			if err := cmt.Add(key, value); err != nil {
				return fmt.Errorf("failed to add %s comment: %w", key, err)
			}
		}
	}

	res := cmt.Marshal()
	cmtBlock.Data = res.Data

	if embedArtwork && len(metadata.ArtworkData) > 0 {
		meta := f.Meta[:0]
		for _, block := range f.Meta {
			if block.Type != flac.Picture {
				meta = append(meta, block)
			}
		}
		f.Meta = append(meta, &flac.MetaDataBlock{
			Type: flac.Picture,
			Data: createFLACPictureBlock(metadata.ArtworkData, artworkMIME(metadata)),
		})
	}
	return nil
}

var vorbisOrder = []string{
	"TITLE", "ALBUM", "ARTIST", "ALBUMARTIST", "DATE", "GENRE", "COMPOSER",
	"COPYRIGHT", "ISRC", "LYRICS", "TRACKNUMBER", "TRACKTOTAL", "DISCNUMBER", "DISCTOTAL",
}

// VorbisFields maps metadata onto Vorbis comment names, omitting empty
// values.
func VorbisFields(metadata *TrackMetadata) map[string]string {
	fields := map[string]string{}
	set := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	setInt := func(key string, value int) {
		if value > 0 {
			fields[key] = strconv.Itoa(value)
		}
	}

	set("TITLE", metadata.Title)
	set("ALBUM", metadata.Album)
	set("ARTIST", metadata.Artist)
	set("ALBUMARTIST", metadata.AlbumArtist)
	set("DATE", metadata.Date)
	set("GENRE", metadata.Genre)
	set("COMPOSER", metadata.Composer)
	set("COPYRIGHT", metadata.Copyright)
	set("ISRC", metadata.ISRC)
	set("LYRICS", metadata.Lyrics)
	setInt("TRACKNUMBER", metadata.TrackNumber)
	setInt("TRACKTOTAL", metadata.TrackTotal)
	setInt("DISCNUMBER", metadata.DiscNumber)
	setInt("DISCTOTAL", metadata.DiscTotal)
	return fields
}

func artworkMIME(metadata *TrackMetadata) string {
	if metadata.ArtworkMIME != "" {
		return metadata.ArtworkMIME
	}
	return DetectImageMIME(metadata.ArtworkData)
}

func numberPair(n, total int) string {
	switch {
	case n <= 0:
		return ""
	case total > 0:
		return fmt.Sprintf("%d/%d", n, total)
	default:
		return strconv.Itoa(n)
	}
}

// createFLACPictureBlock creates a FLAC picture block from image data
func createFLACPictureBlock(imageData []byte, mimeType string) []byte {
	// FLAC picture block format:
	// 4 bytes: picture type (3 = front cover)
	// 4 bytes: MIME type length
	// n bytes: MIME type string
	// 4 bytes: description length
	// n bytes: description string
	// 4 bytes: width, height, color depth, number of colors
	// 4 bytes: picture data length
	// n bytes: picture data
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	description := "Front Cover"

	size := 4 + 4 + len(mimeType) + 4 + len(description) + 16 + 4 + len(imageData)
	data := make([]byte, size)

	pos := 0
	writeUint32BE(data[pos:], 3)
	pos += 4

	writeUint32BE(data[pos:], uint32(len(mimeType)))
	pos += 4
	copy(data[pos:], mimeType)
	pos += len(mimeType)

	writeUint32BE(data[pos:], uint32(len(description)))
	pos += 4
	copy(data[pos:], description)
	pos += len(description)

	// Dimensions are left to the decoder.
	pos += 16

	writeUint32BE(data[pos:], uint32(len(imageData)))
	pos += 4
	copy(data[pos:], imageData)

	return data
}

// writeUint32BE writes a uint32 in big-endian format
func writeUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func readUint32BE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// parseFLACPictureBlock returns the image data and MIME type of a picture
// block.
func parseFLACPictureBlock(data []byte) ([]byte, string, bool) {
	pos := 4
	next := func() (int, bool) {
		if pos+4 > len(data) {
			return 0, false
		}
		n := int(readUint32BE(data[pos:]))
		pos += 4
		return n, pos+n <= len(data)
	}

	mimeLen, ok := next()
	if !ok {
		return nil, "", false
	}
	mimeType := string(data[pos : pos+mimeLen])
	pos += mimeLen

	descLen, ok := next()
	if !ok {
		return nil, "", false
	}
	pos += descLen + 16

	picLen, ok := next()
	if !ok {
		return nil, "", false
	}
	return data[pos : pos+picLen], mimeType, true
}

// GetMetadata reads metadata from an audio file
func (m *Manager) GetMetadata(filePath string) (*TrackMetadata, error) {
	format, err := DetectFormat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect file: %w", err)
	}

	switch format {
	case FormatMP4:
		return m.getMP4Metadata(filePath)
	case FormatFLAC:
		return m.getFLACMetadata(filePath)
	case FormatMP3:
		return m.getMP3Metadata(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", filePath)
	}
}

func (m *Manager) getMP4Metadata(filePath string) (*TrackMetadata, error) {
	mp4, err := mp4tag.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP4 file: %w", err)
	}
	defer mp4.Close()

	tags, err := mp4.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read MP4 metadata: %w", err)
	}

	metadata := &TrackMetadata{
		Title:       tags.Title,
		Artist:      tags.Artist,
		Album:       tags.Album,
		AlbumArtist: tags.AlbumArtist,
		Composer:    tags.Composer,
		Genre:       tags.CustomGenre,
		Date:        tags.Date,
		Copyright:   tags.Copyright,
		Lyrics:      tags.Lyrics,
		TrackNumber: int(tags.TrackNumber),
		TrackTotal:  int(tags.TrackTotal),
		DiscNumber:  int(tags.DiscNumber),
		DiscTotal:   int(tags.DiscTotal),
	}
	if isrc, ok := tags.Custom["ISRC"]; ok {
		metadata.ISRC = isrc
	}
	for _, pic := range tags.Pictures {
		if pic != nil && len(pic.Data) > 0 {
			metadata.ArtworkData = pic.Data
			metadata.ArtworkMIME = DetectImageMIME(pic.Data)
			break
		}
	}
	return metadata, nil
}

// getMP3Metadata reads metadata from an MP3 file
func (m *Manager) getMP3Metadata(filePath string) (*TrackMetadata, error) {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	metadata := &TrackMetadata{
		Title:  tag.Title(),
		Artist: tag.Artist(),
		Album:  tag.Album(),
		Genre:  tag.Genre(),
	}

	text := func(id string) string {
		if tf, ok := tag.GetLastFrame(id).(id3v2.TextFrame); ok {
			return tf.Text
		}
		return ""
	}
	metadata.AlbumArtist = text("TPE2")
	metadata.Composer = text("TCOM")
	metadata.Date = text("TDRC")
	metadata.Copyright = text("TCOP")
	metadata.ISRC = text("TSRC")
	metadata.TrackNumber, metadata.TrackTotal = parseNumberPair(text("TRCK"))
	metadata.DiscNumber, metadata.DiscTotal = parseNumberPair(text("TPOS"))

	return metadata, nil
}

// getFLACMetadata reads metadata from a FLAC file
func (m *Manager) getFLACMetadata(filePath string) (*TrackMetadata, error) {
	f, err := flac.ParseFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse FLAC file: %w", err)
	}

	metadata := &TrackMetadata{}
	for _, block := range f.Meta {
		switch block.Type {
		case flac.VorbisComment:
			cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				continue
			}
			get := func(key string) string {
				if values, err := cmt.Get(key); err == nil && len(values) > 0 {
					return values[0]
				}
				return ""
			}
			atoi := func(key string) int {
				n, _ := strconv.Atoi(get(key))
				return n
			}
			metadata.Title = get("TITLE")
			metadata.Artist = get("ARTIST")
			metadata.Album = get("ALBUM")
			metadata.AlbumArtist = get("ALBUMARTIST")
			metadata.Composer = get("COMPOSER")
			metadata.Genre = get("GENRE")
			metadata.Date = get("DATE")
			metadata.Copyright = get("COPYRIGHT")
			metadata.ISRC = get("ISRC")
			metadata.Lyrics = get("LYRICS")
			metadata.TrackNumber = atoi("TRACKNUMBER")
			metadata.TrackTotal = atoi("TRACKTOTAL")
			metadata.DiscNumber = atoi("DISCNUMBER")
			metadata.DiscTotal = atoi("DISCTOTAL")
		case flac.Picture:
			if data, mimeType, ok := parseFLACPictureBlock(block.Data); ok && metadata.ArtworkData == nil {
				metadata.ArtworkData = data
				metadata.ArtworkMIME = mimeType
			}
		}
	}
	return metadata, nil
}

func parseNumberPair(s string) (int, int) {
	n, total, _ := strings.Cut(s, "/")
	a, _ := strconv.Atoi(n)
	b, _ := strconv.Atoi(total)
	return a, b
}

// FileExists checks if a file exists
func FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil
}
