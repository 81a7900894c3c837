// Command nse fetches market data and daily reports from the National
// Stock Exchange of India.
package main

func main() {
	Execute()
}
