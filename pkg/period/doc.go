// Package period defines the calendar periods a metric sheet is indexed by:
// single months, quarters, and whole years.
//
// Every period has a canonical string key used for map storage and sorting:
// years render as "YYYY", months as "YYYY-MM" (01–12), quarters as "YYYY-QQ"
// where QQ is the quarter number plus 32 (33–36). The offset keeps the
// quarter range disjoint from months, so one key space covers all three
// shapes and FromKey can invert Key without a shape hint.
package period
