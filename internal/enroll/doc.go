// Package enroll handles operator onboarding through invite codes.
//
// An admin issues an invite bound to a device. The invite is a
// single-use code, delivered as a deep link and a QR image; it carries
// no expiry and stays valid until redeemed. A stranger who presents the
// code becomes a join request, which every admin is asked to approve or
// deny. Approval creates the operator (or links an existing one) and
// burns the invite; denial discards the request and leaves the invite
// unused.
package enroll
