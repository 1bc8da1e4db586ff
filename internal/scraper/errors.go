package scraper

import "errors"

// ErrCancelled marks work stopped by a cancellation request. Callers use
// errors.Is to tell it apart from ordinary fetch or extraction failures so a
// cancelled job finishes as cancelled, never as failed.
var ErrCancelled = errors.New("scrape cancelled")

// ErrRobotsDisallowed is raised before any network I/O when robots.txt denies
// the target path.
var ErrRobotsDisallowed = errors.New("blocked by robots.txt")

// ErrNotFound is returned by stores when a job does not exist.
var ErrNotFound = errors.New("job not found")
