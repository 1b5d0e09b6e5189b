package vcf

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
)

// The installer deployment spec is a loosely-typed document whose
// top-level sections are all optional. Each section is decoded and parsed
// independently: a malformed section (or a malformed entry inside a list
// section) is logged and skipped without aborting the other sections.
// Password fields decode as pointers: presence of the key, not a
// non-empty value, decides whether a record is emitted.

type hostSpec struct {
	Hostname    string `json:"hostname"`
	IPAddress   string `json:"ipAddress"`
	Credentials *struct {
		Username string `json:"username"`
		Password string `json:"password"`
	} `json:"credentials"`
}

type vcenterSpec struct {
	VCenterHostname      string  `json:"vcenterHostname"`
	Hostname             string  `json:"hostname"`
	SSODomain            string  `json:"ssoDomain"`
	RootVcenterPassword  *string `json:"rootVcenterPassword"`
	AdminUserSsoPassword *string `json:"adminUserSsoPassword"`
}

type nsxtManager struct {
	Hostname string `json:"hostname"`
	Name     string `json:"name"`
}

type nsxtSpec struct {
	NsxtManagers            []json.RawMessage `json:"nsxtManagers"`
	VipFqdn                 string            `json:"vipFqdn"`
	RootNsxtManagerPassword *string           `json:"rootNsxtManagerPassword"`
	NsxtAdminPassword       *string           `json:"nsxtAdminPassword"`
	NsxtAuditPassword       *string           `json:"nsxtAuditPassword"`
}

type sddcManagerSpec struct {
	Hostname          string  `json:"hostname"`
	RootPassword      *string `json:"rootPassword"`
	LocalUserPassword *string `json:"localUserPassword"`
	SSHPassword       *string `json:"sshPassword"`
}

type opsNode struct {
	Hostname         string  `json:"hostname"`
	Type             string  `json:"type"`
	RootUserPassword *string `json:"rootUserPassword"`
}

type opsSpec struct {
	LoadBalancerFqdn  string            `json:"loadBalancerFqdn"`
	AdminUserPassword *string           `json:"adminUserPassword"`
	Nodes             []json.RawMessage `json:"nodes"`
}

type fleetManagementSpec struct {
	Hostname          string  `json:"hostname"`
	RootUserPassword  *string `json:"rootUserPassword"`
	AdminUserPassword *string `json:"adminUserPassword"`
}

type collectorSpec struct {
	Hostname         string  `json:"hostname"`
	RootUserPassword *string `json:"rootUserPassword"`
}

// ParseInstallerSpec extracts credential records from a raw installer
// deployment spec document. It never fails: undecodable sections are
// skipped and everything that could be extracted is returned. Records may
// be incomplete (empty hostname or username); the reconciler rejects
// those with a logged reason rather than storing them.
func ParseInstallerSpec(data []byte) []model.CredentialRecord {
	var sections map[string]json.RawMessage
	if err := json.Unmarshal(data, &sections); err != nil {
		slog.Error("installer spec is not a JSON object, skipping", "error", err)
		return nil
	}

	var records []model.CredentialRecord

	if raw, ok := sections["hostSpecs"]; ok {
		records = append(records, parseHostSpecs(raw)...)
	}
	if raw, ok := sections["vcenterSpec"]; ok {
		records = append(records, parseVCenterSpec(raw)...)
	}
	if raw, ok := sections["nsxtSpec"]; ok {
		records = append(records, parseNsxtSpec(raw)...)
	}
	if raw, ok := sections["sddcManagerSpec"]; ok {
		records = append(records, parseSddcManagerSpec(raw)...)
	}
	if raw, ok := sections["vcfOperationsSpec"]; ok {
		records = append(records, parseOpsSpec(raw)...)
	}
	if raw, ok := sections["vcfOperationsFleetManagementSpec"]; ok {
		records = append(records, parseFleetManagementSpec(raw)...)
	}
	if raw, ok := sections["vcfOperationsCollectorSpec"]; ok {
		records = append(records, parseCollectorSpec(raw)...)
	}

	return records
}

// installerRecord fills the fields common to every installer-sourced
// credential.
func installerRecord(hostname, username, password, credType, acctType, resType string) model.CredentialRecord {
	return model.CredentialRecord{
		Hostname:       hostname,
		Username:       username,
		Password:       password,
		CredentialType: credType,
		AccountType:    acctType,
		ResourceType:   resType,
		Source:         model.SourceInstaller,
	}
}

func parseHostSpecs(raw json.RawMessage) []model.CredentialRecord {
	var hosts []json.RawMessage
	if err := json.Unmarshal(raw, &hosts); err != nil {
		slog.Error("hostSpecs section malformed, skipping", "error", err)
		return nil
	}

	var records []model.CredentialRecord
	for i, entry := range hosts {
		var h hostSpec
		if err := json.Unmarshal(entry, &h); err != nil {
			slog.Error("host spec entry malformed, skipping", "index", i, "error", err)
			continue
		}

		// The credentials field is an embedded object, not a list.
		if h.Credentials == nil {
			continue
		}

		hostname := h.Hostname
		if hostname == "" {
			hostname = h.IPAddress
		}
		records = append(records, installerRecord(
			hostname, h.Credentials.Username, h.Credentials.Password,
			"SSH", "USER", "ESXI",
		))
	}
	return records
}

func parseVCenterSpec(raw json.RawMessage) []model.CredentialRecord {
	var vc vcenterSpec
	if err := json.Unmarshal(raw, &vc); err != nil {
		slog.Error("vcenterSpec section malformed, skipping", "error", err)
		return nil
	}

	hostname := vc.VCenterHostname
	if hostname == "" {
		hostname = vc.Hostname
	}
	ssoDomain := vc.SSODomain
	if ssoDomain == "" {
		ssoDomain = "vsphere.local"
	}

	var records []model.CredentialRecord
	if vc.RootVcenterPassword != nil {
		records = append(records, installerRecord(
			hostname, "root", *vc.RootVcenterPassword,
			"SSH", "USER", "VCENTER",
		))
	}
	if vc.AdminUserSsoPassword != nil {
		records = append(records, installerRecord(
			hostname, "administrator@"+ssoDomain, *vc.AdminUserSsoPassword,
			"SSO", "SERVICE", "VCENTER",
		))
	}
	return records
}

// nsxtNodeRecords yields the root/admin/audit records for one NSX
// hostname. The three passwords are shared across every manager node and
// the virtual IP.
func nsxtNodeRecords(hostname, resType string, spec nsxtSpec) []model.CredentialRecord {
	var records []model.CredentialRecord
	if spec.RootNsxtManagerPassword != nil {
		records = append(records, installerRecord(hostname, "root", *spec.RootNsxtManagerPassword, "SSH", "USER", resType))
	}
	if spec.NsxtAdminPassword != nil {
		records = append(records, installerRecord(hostname, "admin", *spec.NsxtAdminPassword, "API", "SERVICE", resType))
	}
	if spec.NsxtAuditPassword != nil {
		records = append(records, installerRecord(hostname, "audit", *spec.NsxtAuditPassword, "API", "SERVICE", resType))
	}
	return records
}

func parseNsxtSpec(raw json.RawMessage) []model.CredentialRecord {
	var spec nsxtSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		slog.Error("nsxtSpec section malformed, skipping", "error", err)
		return nil
	}

	var records []model.CredentialRecord
	for i, entry := range spec.NsxtManagers {
		var mgr nsxtManager
		if err := json.Unmarshal(entry, &mgr); err != nil {
			slog.Error("nsxt manager entry malformed, skipping", "index", i, "error", err)
			continue
		}

		hostname := mgr.Hostname
		if hostname == "" {
			hostname = mgr.Name
		}
		records = append(records, nsxtNodeRecords(hostname, "NSX_MANAGER", spec)...)
	}

	if spec.VipFqdn != "" {
		records = append(records, nsxtNodeRecords(spec.VipFqdn, "NSX_VIP", spec)...)
	}
	return records
}

func parseSddcManagerSpec(raw json.RawMessage) []model.CredentialRecord {
	var spec sddcManagerSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		slog.Error("sddcManagerSpec section malformed, skipping", "error", err)
		return nil
	}

	var records []model.CredentialRecord
	if spec.RootPassword != nil {
		records = append(records, installerRecord(spec.Hostname, "root", *spec.RootPassword, "SSH", "USER", "SDDC_MANAGER"))
	}
	if spec.LocalUserPassword != nil {
		// One local-user password backs two distinct identities.
		records = append(records, installerRecord(spec.Hostname, "admin@local", *spec.LocalUserPassword, "API", "SERVICE", "SDDC_MANAGER"))
		records = append(records, installerRecord(spec.Hostname, "vcf", *spec.LocalUserPassword, "SSH", "SERVICE", "SDDC_MANAGER"))
	}
	if spec.SSHPassword != nil && (spec.LocalUserPassword == nil || *spec.SSHPassword != *spec.LocalUserPassword) {
		records = append(records, installerRecord(spec.Hostname, "vcf", *spec.SSHPassword, "SSH", "SERVICE", "SDDC_MANAGER"))
	}
	return records
}

func parseOpsSpec(raw json.RawMessage) []model.CredentialRecord {
	var spec opsSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		slog.Error("vcfOperationsSpec section malformed, skipping", "error", err)
		return nil
	}

	var records []model.CredentialRecord
	if spec.AdminUserPassword != nil && spec.LoadBalancerFqdn != "" {
		records = append(records, installerRecord(spec.LoadBalancerFqdn, "admin", *spec.AdminUserPassword, "API", "SERVICE", "ARIA_OPERATIONS"))
	}

	for i, entry := range spec.Nodes {
		var node opsNode
		if err := json.Unmarshal(entry, &node); err != nil {
			slog.Error("operations node entry malformed, skipping", "index", i, "error", err)
			continue
		}
		if node.RootUserPassword == nil {
			continue
		}

		nodeType := node.Type
		if nodeType == "" {
			nodeType = "unknown"
		}
		records = append(records, installerRecord(
			node.Hostname, "root", *node.RootUserPassword,
			"SSH", "USER", "ARIA_OPERATIONS_"+strings.ToUpper(nodeType),
		))
	}
	return records
}

func parseFleetManagementSpec(raw json.RawMessage) []model.CredentialRecord {
	var spec fleetManagementSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		slog.Error("vcfOperationsFleetManagementSpec section malformed, skipping", "error", err)
		return nil
	}

	var records []model.CredentialRecord
	if spec.RootUserPassword != nil {
		records = append(records, installerRecord(spec.Hostname, "root", *spec.RootUserPassword, "SSH", "USER", "ARIA_OPERATIONS_NETWORKS"))
	}
	if spec.AdminUserPassword != nil {
		records = append(records, installerRecord(spec.Hostname, "admin", *spec.AdminUserPassword, "API", "SERVICE", "ARIA_OPERATIONS_NETWORKS"))
	}
	return records
}

func parseCollectorSpec(raw json.RawMessage) []model.CredentialRecord {
	var spec collectorSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		slog.Error("vcfOperationsCollectorSpec section malformed, skipping", "error", err)
		return nil
	}

	if spec.RootUserPassword == nil {
		return nil
	}
	return []model.CredentialRecord{
		installerRecord(spec.Hostname, "root", *spec.RootUserPassword, "SSH", "USER", "ARIA_OPERATIONS_LOGS"),
	}
}
