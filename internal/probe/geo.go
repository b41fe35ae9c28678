package probe

import (
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// Annotator resolves probe target addresses to ISO country codes using a
// local MaxMind database. Lookups never fail a probe; a miss yields "".
type Annotator struct {
	reader *maxminddb.Reader
}

// OpenAnnotator opens the mmdb file at path.
func OpenAnnotator(path string) (*Annotator, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Annotator{reader: reader}, nil
}

// Country returns the uppercase ISO 3166-1 alpha-2 code for addr, or "".
func (a *Annotator) Country(addr net.IP) string {
	if a == nil || addr == nil {
		return ""
	}
	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := a.reader.Lookup(addr, &record); err != nil {
		return ""
	}
	return record.Country.ISOCode
}

// Close releases the database.
func (a *Annotator) Close() error {
	if a == nil {
		return nil
	}
	return a.reader.Close()
}
