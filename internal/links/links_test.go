package links

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"example.com", "https://example.com", false},
		{"  http://a.io/c?d=1  ", "http://a.io/c?d=1", false},
		{"https://localhost:8080/x", "https://localhost:8080/x", false},
		{"ftp://files.example.com", "", true},
		{"https://", "", true},
		{"foo", "", true},
		{"a b.com", "", true},
		{"", "", true},
		{"https://example.com/" + strings.Repeat("a", MaxLinkLength), "", true},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestLooksLikeLink(t *testing.T) {
	for _, s := range []string{"https://x.org", "www.site", "example.com", "shop.example.com/p?q=1"} {
		assert.True(t, looksLikeLink(s), s)
	}
	for _, s := range []string{"", "foo", "1.5", "John Smith", "name.", ".com"} {
		assert.False(t, looksLikeLink(s), s)
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "007_example-com-promo-spring.pdf",
		FileName(7, "https://www.example.com/promo/spring?x=1"))
	assert.Equal(t, "001_link.pdf", FileName(1, "https://пример.рф/"))
	assert.Equal(t, "1234_a-io.pdf", FileName(1234, "https://a.io"))

	long := FileName(3, "https://example.com/"+strings.Repeat("segment/", 30))
	assert.LessOrEqual(t, len(long), 80)
	assert.True(t, strings.HasPrefix(long, "003_example-com-segment"))
	assert.True(t, strings.HasSuffix(long, ".pdf"))
	assert.NotContains(t, long, "-.pdf")
}

func TestParseText(t *testing.T) {
	input := "# promo links\n\nexample.com\nnot a link\nhttps://x.org/p\n"

	res, err := Parse("links.txt", []byte(input))
	require.NoError(t, err)

	require.Len(t, res.Links, 2)
	assert.Equal(t, Entry{Index: 1, Line: 3, Raw: "example.com", URL: "https://example.com"}, res.Links[0])
	assert.Equal(t, 2, res.Links[1].Index)
	assert.Equal(t, 5, res.Links[1].Line)

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 4, res.Skipped[0].Line)
	assert.Equal(t, "not a link", res.Skipped[0].Raw)
}

func TestParseText_ByteOrderMark(t *testing.T) {
	res, err := ParseText(strings.NewReader("\ufeffexample.com\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", res.Links[0].URL)
}

func TestParse_NoLinks(t *testing.T) {
	res, err := Parse("empty.txt", []byte("# nothing\n\n"))
	assert.ErrorIs(t, err, ErrNoLinks)
	require.NotNil(t, res)
	assert.Empty(t, res.Links)
}

func TestParseCSV_HeaderColumn(t *testing.T) {
	input := "name,URL\nA,example.com\nB,\nC,https://b.org\n,\n"

	res, err := Parse("list.csv", []byte(input))
	require.NoError(t, err)

	require.Len(t, res.Links, 2)
	assert.Equal(t, 2, res.Links[0].Line)
	assert.Equal(t, "https://b.org", res.Links[1].URL)
	assert.Equal(t, 4, res.Links[1].Line)

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 3, res.Skipped[0].Line)
	assert.Equal(t, "link column is empty", res.Skipped[0].Reason)
}

func TestParseCSV_Semicolons(t *testing.T) {
	input := "site.com;foo\nbar;baz\nhttp://x.io;y.net\n"

	res, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)

	var urls []string
	for _, l := range res.Links {
		urls = append(urls, l.URL)
	}
	assert.Equal(t, []string{"https://site.com", "http://x.io", "https://y.net"}, urls)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 2, res.Skipped[0].Line)
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Клиент"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "Ссылка"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "ООО Ромашка"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "romashka.ru/menu"))
	require.NoError(t, f.SetCellValue("Sheet1", "A3", "ИП Лютик"))
	require.NoError(t, f.SetCellValue("Sheet1", "B3", "https://lutik.ru"))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	res, err := Parse("clients.xlsx", buf.Bytes())
	require.NoError(t, err)
	require.Len(t, res.Links, 2)
	assert.Equal(t, "https://romashka.ru/menu", res.Links[0].URL)
	assert.Equal(t, "https://lutik.ru", res.Links[1].URL)
	assert.Empty(t, res.Skipped)
}

func TestDetectKind(t *testing.T) {
	assert.Equal(t, KindCSV, DetectKind("A.CSV", nil))
	assert.Equal(t, KindXLSX, DetectKind("book.xlsx", nil))
	assert.Equal(t, KindText, DetectKind("links.txt", []byte("a,b\n")))
	assert.Equal(t, KindText, DetectKind("pasted", []byte("example.com\n")))
}
