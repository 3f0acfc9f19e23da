package links

import (
	"net/url"
	"strings"

	"scout_server/core/domain"
)

// =============================================================================
// Ordered Classification
// =============================================================================
//
// Classification is first-match-wins over an explicit predicate chain:
//
//	job_list -> job_posting -> company_page -> unsubscribe -> tracking -> other
//
// job_list runs before job_posting on purpose: a careers page URL usually
// also satisfies the generic job-path heuristics, and a list page must not be
// recorded as a single posting.

// Anchor-text phrases that mark a link as pointing at a list of jobs.
var jobListAnchorPhrases = []string{
	"see all jobs",
	"view all jobs",
	"all jobs",
	"browse jobs",
	"more jobs",
	"see jobs",
	"view jobs",
	"open positions",
	"open roles",
	"view openings",
	"we're hiring",
	"careers",
}

// Path suffixes of list pages.
var jobListPathSuffixes = []string{
	"/careers",
	"/jobs",
	"/openings",
	"/positions",
	"/vacancies",
	"/join-us",
}

// Job-board domains whose links are postings by default.
var jobBoardDomains = []string{
	"linkedin.com",
	"indeed.com",
	"seek.com.au",
	"seek.co.nz",
	"glassdoor.com",
	"lever.co",
	"greenhouse.io",
	"workable.com",
	"ashbyhq.com",
	"myworkdayjobs.com",
	"smartrecruiters.com",
	"wellfound.com",
	"jobvite.com",
	"bamboohr.com",
	"icims.com",
	"ziprecruiter.com",
}

// Path segments that mark a URL as an individual posting.
var jobPostingPathSegments = []string{
	"/jobs/",
	"/job/",
	"/apply/",
	"/careers/",
	"/positions/",
	"/vacancy/",
	"/posting/",
}

var companyPagePathSuffixes = []string{
	"/about",
	"/about-us",
	"/team",
	"/our-team",
	"/company",
}

var unsubscribeKeywords = []string{
	"unsubscribe",
	"opt-out",
	"optout",
	"remove",
	"manage subscription",
	"email preferences",
}

// Redirect/tracking host substrings seen across mail platforms.
var trackingDomainSubstrings = []string{
	"list-manage.com",
	"sendgrid.net",
	"mandrillapp.com",
	"mailchi.mp",
	"hubspotlinks.com",
	"mailgun.",
	"awstrack.me",
	"mailtrack.io",
	"click.",
	"links.",
	"email.",
	"track.",
}

var trackingPathSegments = []string{
	"/click/",
	"/track/",
	"/go/",
}

// Classify assigns a semantic type to a link. rawURL is the pre-normalization
// form; tracking-parameter presence is only visible there.
func Classify(normalizedURL, rawURL, anchorText string) domain.LinkType {
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return domain.LinkTypeOther
	}

	host := strings.ToLower(u.Hostname())
	path := strings.ToLower(strings.TrimSuffix(u.Path, "/"))
	anchor := strings.ToLower(strings.TrimSpace(anchorText))

	switch {
	case isJobList(host, path, anchor):
		return domain.LinkTypeJobList
	case isJobPosting(host, path):
		return domain.LinkTypeJobPosting
	case isCompanyPage(path):
		return domain.LinkTypeCompanyPage
	case isUnsubscribe(normalizedURL, anchor):
		return domain.LinkTypeUnsubscribe
	case isTracking(host, path, rawURL):
		return domain.LinkTypeTracking
	default:
		return domain.LinkTypeOther
	}
}

func isJobList(host, path, anchor string) bool {
	for _, phrase := range jobListAnchorPhrases {
		if anchor == phrase || strings.Contains(anchor, phrase) {
			return true
		}
	}
	for _, suffix := range jobListPathSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	// Board-level search result pages are lists, not postings.
	if isJobBoard(host) && (path == "" || path == "/jobs" || strings.HasSuffix(path, "/search")) {
		return true
	}
	return false
}

func isJobPosting(host, path string) bool {
	if isJobBoard(host) {
		return true
	}
	for _, segment := range jobPostingPathSegments {
		if strings.Contains(path+"/", segment) {
			return true
		}
	}
	return false
}

func isJobBoard(host string) bool {
	for _, d := range jobBoardDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func isCompanyPage(path string) bool {
	for _, suffix := range companyPagePathSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

func isUnsubscribe(normalizedURL, anchor string) bool {
	lower := strings.ToLower(normalizedURL)
	for _, kw := range unsubscribeKeywords {
		if strings.Contains(anchor, kw) || strings.Contains(lower, strings.ReplaceAll(kw, " ", "-")) {
			return true
		}
	}
	return strings.Contains(lower, "unsubscribe") || strings.Contains(lower, "opt-out") || strings.Contains(lower, "optout")
}

func isTracking(host, path, rawURL string) bool {
	for _, sub := range trackingDomainSubstrings {
		if strings.Contains(host, sub) {
			return true
		}
	}
	for _, segment := range trackingPathSegments {
		if strings.Contains(path+"/", segment) {
			return true
		}
	}
	// Normalization strips tracking params, so probe the raw form.
	if i := strings.Index(rawURL, "?"); i >= 0 {
		for _, pair := range strings.Split(rawURL[i+1:], "&") {
			key := pair
			if j := strings.Index(pair, "="); j >= 0 {
				key = pair[:j]
			}
			if isTrackingParam(key) {
				return true
			}
		}
	}
	return false
}
