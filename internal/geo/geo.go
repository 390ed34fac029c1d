// 包 geo：基于 MaxMind 数据库的 IP 位置与组织信息解析
package geo

import (
	"net"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
	"go.uber.org/multierr"

	"fpagent/internal/metrics"
	"fpagent/pkg/fingerprint"
)

// orgRecord：ISP / Enterprise / Domain 库共有的组织字段
type orgRecord struct {
	ISP            string `maxminddb:"isp"`
	Organization   string `maxminddb:"organization"`
	ASOrganization string `maxminddb:"autonomous_system_organization"`
	Domain         string `maxminddb:"domain"`
	Traits         struct {
		ISP          string `maxminddb:"isp"`
		Organization string `maxminddb:"organization"`
		Domain       string `maxminddb:"domain"`
	} `maxminddb:"traits"`
}

// Resolver：城市库与组织库均为可选
// 约束：nil Resolver 或未加载的库返回空结果且不报错。
type Resolver struct {
	city *geoip2.Reader
	org  *maxminddb.Reader
	lang string
}

// Open：按路径打开数据库，空路径表示不加载
func Open(cityPath, orgPath, lang string) (*Resolver, error) {
	if lang == "" {
		lang = "en"
	}
	r := &Resolver{lang: lang}
	if cityPath != "" {
		c, err := geoip2.Open(cityPath)
		if err != nil {
			return nil, err
		}
		r.city = c
	}
	if orgPath != "" {
		o, err := maxminddb.Open(orgPath)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.org = o
	}
	return r, nil
}

func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	var err error
	if r.city != nil {
		err = multierr.Append(err, r.city.Close())
	}
	if r.org != nil {
		err = multierr.Append(err, r.org.Close())
	}
	return err
}

// Location：城市级位置；找不到记录时返回零值
func (r *Resolver) Location(ip net.IP) (fingerprint.IPLocation, error) {
	var loc fingerprint.IPLocation
	if r == nil || r.city == nil || ip == nil {
		return loc, nil
	}
	t0 := time.Now()
	rec, err := r.city.City(ip)
	observe("city", t0)
	if err != nil {
		return loc, err
	}
	if rec.Location.AccuracyRadius > 0 {
		radius := int(rec.Location.AccuracyRadius)
		loc.AccuracyRadius = &radius
	}
	if rec.Location.Latitude != 0 || rec.Location.Longitude != 0 {
		lat, lon := rec.Location.Latitude, rec.Location.Longitude
		loc.Latitude, loc.Longitude = &lat, &lon
	}
	loc.Timezone = rec.Location.TimeZone
	loc.PostalCode = rec.Postal.Code
	if n := r.name(rec.City.Names); n != "" {
		loc.City = &fingerprint.City{Name: n}
	}
	for _, s := range rec.Subdivisions {
		loc.Subdivisions = append(loc.Subdivisions, fingerprint.Subdivision{IsoCode: s.IsoCode, Name: r.name(s.Names)})
	}
	if rec.Country.IsoCode != "" {
		loc.Country = &fingerprint.Country{Code: rec.Country.IsoCode, Name: r.name(rec.Country.Names)}
	}
	if rec.Continent.Code != "" {
		loc.Continent = &fingerprint.Continent{Code: rec.Continent.Code, Name: r.name(rec.Continent.Names)}
	}
	return loc, nil
}

// Organization：组织信息；库未加载或无记录时返回 nil
func (r *Resolver) Organization(ip net.IP) (*fingerprint.Organization, error) {
	if r == nil || r.org == nil || ip == nil {
		return nil, nil
	}
	t0 := time.Now()
	var rec orgRecord
	err := r.org.Lookup(ip, &rec)
	observe("org", t0)
	if err != nil {
		return nil, err
	}
	return rec.organization(), nil
}

func (rec orgRecord) organization() *fingerprint.Organization {
	o := fingerprint.Organization{
		Name:   first(rec.Organization, rec.Traits.Organization, rec.ASOrganization),
		Domain: first(rec.Domain, rec.Traits.Domain),
		ISP:    first(rec.ISP, rec.Traits.ISP, rec.ASOrganization),
	}
	if o.Name == "" && o.ISP == "" && o.Domain == "" {
		return nil
	}
	o.LegalName = first(rec.ASOrganization, o.Name)
	return &o
}

func (r *Resolver) name(names map[string]string) string {
	if n := names[r.lang]; n != "" {
		return n
	}
	return names["en"]
}

func first(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

func observe(db string, t0 time.Time) {
	metrics.GeoLookupDurationMs.WithLabelValues(db).Observe(float64(time.Since(t0).Microseconds()) / 1000)
}
