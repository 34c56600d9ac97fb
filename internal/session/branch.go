package session

import (
	"regexp"
)

// RewriteBranchURL points a URL on the main branch of repo at branch:
//
//	/{repo}/tree/main           -> /{repo}/tree/{branch}
//	/{repo}/blob/main/{path}    -> /{repo}/blob/{branch}/{path}
//
// URLs not on the main branch are returned unchanged with ok=false.
func RewriteBranchURL(url, repo, branch string) (string, bool) {
	re := regexp.MustCompile("/" + regexp.QuoteMeta(repo) + "/(tree|blob)/main(.*)")
	m := re.FindStringSubmatchIndex(url)
	if m == nil {
		return url, false
	}
	kind := url[m[2]:m[3]]
	rest := url[m[4]:m[5]]
	return url[:m[0]] + "/" + repo + "/" + kind + "/" + branch + rest, true
}

// onMainBranch reports whether url shows the main branch of repo.
func onMainBranch(url, repo string) bool {
	re := regexp.MustCompile(regexp.QuoteMeta(repo) + "/(tree|blob)/main")
	return re.MatchString(url)
}
