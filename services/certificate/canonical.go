package certificate

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// IssuedAtLayout is the only timestamp format the canonical form accepts.
const IssuedAtLayout = "2006-01-02T15:04:05Z"

// BuildCanonicalForm serializes the signed fields, one per line, followed by
// the processing data sorted by key. Signer and verifier must agree on this
// byte for byte.
func BuildCanonicalForm(c *Certificate) string {
	lines := []string{
		"CertificateId:" + c.ID,
		"LicenseeCode:" + c.LicenseeCode,
		"ModuleId:" + c.ModuleID,
		"ModuleCertificateCode:" + c.ModuleCertificateCode,
		"ModuleVersion:" + c.ModuleVersion,
		"IssuedAt:" + c.IssuedAt.UTC().Format(IssuedAtLayout),
		"ProjectName:" + c.ProjectName,
		"SignatoryName:" + c.SignatoryName,
		"CompanyName:" + c.CompanyName,
	}

	data := c.Data()
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, "Data:"+k+"="+data[k])
	}

	return strings.Join(lines, "\n")
}

// nonCanonicalField names the first field that could bleed into a
// neighbouring line of the canonical form, or returns "". Values may not hold
// line breaks and processing data keys may not hold '=' either.
func nonCanonicalField(c *Certificate) string {
	fields := []struct{ name, value string }{
		{"certificateId", c.ID},
		{"licenseeCode", c.LicenseeCode},
		{"moduleId", c.ModuleID},
		{"moduleCertificateCode", c.ModuleCertificateCode},
		{"moduleVersion", c.ModuleVersion},
		{"projectName", c.ProjectName},
		{"signatoryName", c.SignatoryName},
		{"companyName", c.CompanyName},
	}
	for _, f := range fields {
		if strings.ContainsAny(f.value, "\r\n") {
			return f.name
		}
	}

	data := c.Data()
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.ContainsAny(k, "=\r\n") || strings.ContainsAny(data[k], "\r\n") {
			return "processingData"
		}
	}
	return ""
}

var certificateIDPattern = regexp.MustCompile(`^([A-Z0-9]{2})-(\d{4})-(\d{5,})$`)

// IssueMonth formats t as YYMM in UTC.
func IssueMonth(t time.Time) string {
	return t.UTC().Format("0601")
}

func validIssueMonth(month string) bool {
	if len(month) != 4 {
		return false
	}
	_, err := time.Parse("0601", month)
	return err == nil
}

// FormatID builds the certificate id, e.g. FO-2501-00007.
func FormatID(licenseeCode, issueMonth string, seq int64) string {
	return fmt.Sprintf("%s-%s-%05d", licenseeCode, issueMonth, seq)
}

// ParseID splits a certificate id into its licensee code, issue month and
// sequence number.
func ParseID(id string) (string, string, int64, bool) {
	m := certificateIDPattern.FindStringSubmatch(id)
	if m == nil || !validIssueMonth(m[2]) {
		return "", "", 0, false
	}
	seq, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil || seq < 1 {
		return "", "", 0, false
	}
	return m[1], m[2], seq, true
}
