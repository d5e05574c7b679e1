// Package textfile reads user-supplied text files (hint files, dpkg status
// databases). It strips Byte Order Marks and converts UTF-16 to UTF-8.
package textfile

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/hashget/hashget/internal/errors"
	"golang.org/x/text/encoding/unicode"
)

var (
	bomUTF8              = []byte{0xef, 0xbb, 0xbf}
	bomUTF16BigEndian    = []byte{0xfe, 0xff}
	bomUTF16LittleEndian = []byte{0xff, 0xfe}
)

// Decode removes a byte order mark and converts the bytes to UTF-8.
func Decode(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, bomUTF8) {
		return data[len(bomUTF8):], nil
	}

	if !bytes.HasPrefix(data, bomUTF16BigEndian) && !bytes.HasPrefix(data, bomUTF16LittleEndian) {
		return data, nil
	}

	e := unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	return e.NewDecoder().Bytes(data)
}

// Read returns the contents of the file, converted to UTF-8, stripped of any BOM.
func Read(filename string) ([]byte, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	return Decode(data)
}

// ReadJSON decodes the JSON document in filename into v.
func ReadJSON(filename string, v interface{}) error {
	data, err := Read(filename)
	if err != nil {
		return err
	}

	return errors.Wrapf(json.Unmarshal(data, v), "parse %v", filename)
}
