// Package questions tracks blocked minions' clarification requests and the
// chat threads that will answer them.
package questions
