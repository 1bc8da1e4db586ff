package fetch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCharsetFromContentType(t *testing.T) {
	require.Equal(t, "utf-8", charsetFromContentType("text/html; charset=UTF-8"))
	require.Equal(t, "iso-8859-1", charsetFromContentType(`text/html; charset="latin1"`))
	require.Equal(t, "windows-1252", charsetFromContentType("text/html; charset=cp1252"))
	require.Equal(t, "", charsetFromContentType("text/html"))
}

func TestCharsetFromMeta(t *testing.T) {
	require.Equal(t, "iso-8859-1",
		charsetFromMeta([]byte(`<html><head><meta charset="ISO-8859-1"></head>`)))
	require.Equal(t, "windows-1252",
		charsetFromMeta([]byte(`<meta http-equiv="Content-Type" content="text/html; charset=windows-1252">`)))
	require.Equal(t, "", charsetFromMeta([]byte(`<html><head><title>x</title></head>`)))
}

func TestCharsetFromMetaIgnoresBeyondSniffLimit(t *testing.T) {
	padding := strings.Repeat(" ", metaSniffLimit)
	body := []byte(padding + `<meta charset="iso-8859-1">`)
	require.Equal(t, "", charsetFromMeta(body))
}

func TestDecodeBodyLatin1(t *testing.T) {
	// "aplicação" encoded as ISO-8859-1.
	raw := []byte("aplica\xe7\xe3o")
	decoded := decodeBody(raw, "text/html; charset=iso-8859-1")
	require.Equal(t, "aplicação", decoded)
}

func TestDecodeBodyMetaOverridesMissingHeader(t *testing.T) {
	raw := append([]byte(`<html><head><meta charset="iso-8859-1"></head><body>`), 0xe7, 0xe3)
	decoded := decodeBody(raw, "text/html")
	require.Contains(t, decoded, "çã")
}

func TestDecodeBodyDefaultsToUTF8(t *testing.T) {
	raw := []byte("já em utf-8: ção")
	require.Equal(t, string(raw), decodeBody(raw, "text/html"))
}

func TestDecodeBodyUnknownCharsetFallsBack(t *testing.T) {
	raw := []byte("plain body")
	require.Equal(t, "plain body", decodeBody(raw, "text/html; charset=x-made-up"))
}
